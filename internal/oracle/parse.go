package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aristath/quorum/internal/capability"
)

// extractJSON strips markdown fences and any prose around the outermost
// JSON object or array. Models add both despite being told not to.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func decodeStrict(capName, raw string, v any) error {
	body := extractJSON(raw)
	if body == "" {
		return capability.Malformed(capName, "empty reply")
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return capability.Malformed(capName, "invalid JSON: %v", err)
	}
	return nil
}

// asList accepts either an array or a single object, as decomposer and
// analyst replies sometimes omit the enclosing array.
func asList(capName, raw string) ([]json.RawMessage, error) {
	body := bytes.TrimSpace([]byte(extractJSON(raw)))
	if len(body) == 0 {
		return nil, capability.Malformed(capName, "empty reply")
	}
	if body[0] == '{' {
		return []json.RawMessage{body}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, capability.Malformed(capName, "invalid JSON array: %v", err)
	}
	return items, nil
}

// scalarText renders a JSON string, number or bool as text.
func scalarText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}

func parseAnswer(raw string) (capability.Answer, error) {
	var wire struct {
		Reasoning   json.RawMessage `json:"chain_of_thought"`
		FinalAnswer json.RawMessage `json:"final_answer"`
	}
	if err := decodeStrict(capWorker, raw, &wire); err != nil {
		return capability.Answer{}, err
	}
	if len(wire.FinalAnswer) == 0 || string(wire.FinalAnswer) == "null" {
		return capability.Answer{}, capability.Malformed(capWorker, "missing final_answer")
	}

	final, ok := scalarText(wire.FinalAnswer)
	if !ok {
		// Structured answers are kept verbatim
		final = string(wire.FinalAnswer)
	}
	var reasoning string
	if len(wire.Reasoning) > 0 && string(wire.Reasoning) != "null" {
		if reasoning, ok = scalarText(wire.Reasoning); !ok {
			reasoning = string(wire.Reasoning)
		}
	}

	return capability.Answer{Reasoning: reasoning, FinalAnswer: final}, nil
}

func parseVerdict(raw string) (capability.JudgeVerdict, error) {
	var wire struct {
		Coherence            *float64 `json:"logical_coherence"`
		Completeness         *float64 `json:"completeness"`
		Correctness          *float64 `json:"correctness"`
		Clarity              *float64 `json:"clarity"`
		InstructionFollowing *float64 `json:"instruction_following"`
		Verdict              string   `json:"final_verdict"`
		Suggestions          string   `json:"improvement_suggestions"`
	}
	if err := decodeStrict(capJudge, raw, &wire); err != nil {
		return capability.JudgeVerdict{}, err
	}

	fields := []struct {
		name string
		v    *float64
	}{
		{"logical_coherence", wire.Coherence},
		{"completeness", wire.Completeness},
		{"correctness", wire.Correctness},
		{"clarity", wire.Clarity},
		{"instruction_following", wire.InstructionFollowing},
	}
	for _, f := range fields {
		if f.v == nil {
			return capability.JudgeVerdict{}, capability.Malformed(capJudge, "missing field %q", f.name)
		}
		if math.IsNaN(*f.v) || *f.v < 0 || *f.v > 10 {
			return capability.JudgeVerdict{}, capability.Malformed(capJudge, "%s out of range: %v", f.name, *f.v)
		}
	}

	var verdict capability.Verdict
	switch strings.ToLower(strings.TrimSpace(wire.Verdict)) {
	case "accepted":
		verdict = capability.VerdictAccepted
	case "rejected":
		verdict = capability.VerdictRejected
	default:
		return capability.JudgeVerdict{}, capability.Malformed(capJudge, "final_verdict must be Accepted or Rejected, got %q", wire.Verdict)
	}

	return capability.JudgeVerdict{
		Coherence:            *wire.Coherence,
		Completeness:         *wire.Completeness,
		Correctness:          *wire.Correctness,
		Clarity:              *wire.Clarity,
		InstructionFollowing: *wire.InstructionFollowing,
		Verdict:              verdict,
		Suggestions:          wire.Suggestions,
	}, nil
}

type stepWire struct {
	ID           json.RawMessage `json:"id"`
	Task         string          `json:"task"`
	Dependencies []string        `json:"dependencies"`
	Blocking     bool            `json:"blocking"`
}

func decodeStep(capName string, item json.RawMessage, index int) (stepWire, string, error) {
	var w stepWire
	if err := json.Unmarshal(item, &w); err != nil {
		return w, "", capability.Malformed(capName, "step %d: %v", index, err)
	}
	id, ok := scalarText(w.ID)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return w, "", capability.Malformed(capName, "step %d: missing id", index)
	}
	if strings.TrimSpace(w.Task) == "" {
		return w, "", capability.Malformed(capName, "step %s: missing task", id)
	}
	return w, id, nil
}

func parsePlan(raw string) ([]capability.PlannedStep, error) {
	items, err := asList(capDecomposer, raw)
	if err != nil {
		return nil, err
	}

	steps := make([]capability.PlannedStep, 0, len(items))
	for i, item := range items {
		w, id, err := decodeStep(capDecomposer, item, i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, capability.PlannedStep{
			ID:           id,
			Task:         w.Task,
			Dependencies: cleanIDs(w.Dependencies),
		})
	}
	return steps, nil
}

func parseFollowUps(raw string) ([]capability.FollowUpStep, error) {
	items, err := asList(capAnalyst, raw)
	if err != nil {
		return nil, err
	}

	steps := make([]capability.FollowUpStep, 0, len(items))
	for i, item := range items {
		w, id, err := decodeStep(capAnalyst, item, i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, capability.FollowUpStep{
			ID:           id,
			Task:         w.Task,
			Dependencies: cleanIDs(w.Dependencies),
			Blocking:     w.Blocking,
		})
	}
	return steps, nil
}

func parseRanking(raw string) ([]string, error) {
	var names []string
	if err := decodeStrict(capRanker, raw, &names); err != nil {
		return nil, err
	}
	return cleanIDs(names), nil
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// parseScore reads the first number in the reply and requires it to be in 1..10.
func parseScore(raw string) (float64, error) {
	m := numberPattern.FindString(raw)
	if m == "" {
		return 0, capability.Malformed(capScorer, "no number in %q", truncate(raw, 80))
	}
	score, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, capability.Malformed(capScorer, "bad number %q", m)
	}
	if score < 1 || score > 10 {
		return 0, capability.Malformed(capScorer, "score %v outside 1..10", score)
	}
	return score, nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

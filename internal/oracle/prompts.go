package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
)

// Capability names double as role keys and metric labels.
const (
	capDecomposer  = config.RoleDecomposer
	capWorker      = config.RoleWorker
	capJudge       = config.RoleJudge
	capSynthesizer = config.RoleSynthesizer
	capRanker      = config.RoleRanker
	capScorer      = config.RoleScorer
	capAnalyst     = config.RoleAnalyst
)

func decomposePrompt(task string) string {
	return "Decompose the following complex task into clear, base-level tasks that can be solved by specialized AI agents. " +
		"For each task, provide an 'id' (e.g., T1, T2, ...), a 'task' description, and a list of 'dependencies' (other task IDs that must be completed first). " +
		"Tasks that can be performed concurrently should have an empty dependencies list. " +
		"Return only a raw JSON array of objects with keys 'id', 'task', and 'dependencies', with no surrounding text or code fences.\n\n" +
		"Complex Task: " + task
}

func personaPrompt(profile directory.WorkerProfile) string {
	return "You are an AI agent. " + profile.CapabilityText
}

func actPrompt(profile directory.WorkerProfile, task, taskContext string) string {
	var sb strings.Builder
	sb.WriteString(personaPrompt(profile))
	sb.WriteString("\n")
	if taskContext != "" {
		sb.WriteString("Based on the following previous context:\n")
		sb.WriteString(taskContext)
		sb.WriteString("\n")
	}
	sb.WriteString("Please perform the following task. First, provide a detailed chain-of-thought that explains your reasoning step-by-step. ")
	sb.WriteString("Then, provide a final concise answer. ")
	sb.WriteString("Respond using the following raw JSON format, with no surrounding text or code fences:\n")
	sb.WriteString(`{"chain_of_thought": "<detailed reasoning>", "final_answer": "<final answer>"}`)
	sb.WriteString("\nTask: ")
	sb.WriteString(task)
	sb.WriteString("\nBe clear, thorough, and precise in your explanation.")
	return sb.String()
}

func judgePrompt(task string, answer capability.Answer) string {
	rendered, _ := json.MarshalIndent(answer, "", "  ")

	return "You are an advanced AI judge evaluating AI-generated responses. Your task is to analyze the reasoning steps, " +
		"identify strengths and weaknesses, and provide a fair and detailed assessment. " +
		"You will evaluate both the chain-of-thought and the final answer based on the following criteria:\n" +
		"1. Logical Coherence: Is the reasoning step-by-step and logically sound?\n" +
		"2. Completeness: Does it fully address the task?\n" +
		"3. Correctness: Is the final answer factually accurate?\n" +
		"4. Clarity: Is the explanation clear and understandable?\n" +
		"5. Instruction-Following: Does the response adhere to the given prompt?\n\n" +
		"Task: " + task + "\n" +
		"Response: " + string(rendered) + "\n\n" +
		"### Evaluation Output:\n" +
		"Return a raw JSON object, with no surrounding text or code fences, with the following fields:\n" +
		"{\n" +
		`  "logical_coherence": <score from 0 to 10>,` + "\n" +
		`  "completeness": <score from 0 to 10>,` + "\n" +
		`  "correctness": <score from 0 to 10>,` + "\n" +
		`  "clarity": <score from 0 to 10>,` + "\n" +
		`  "instruction_following": <score from 0 to 10>,` + "\n" +
		`  "final_verdict": "Accepted" or "Rejected",` + "\n" +
		`  "improvement_suggestions": "<brief feedback on how to improve the response>"` + "\n" +
		"}"
}

func synthesisPrompt(task string, entries []capability.SynthesisEntry) string {
	return "You are an expert synthesizer. Given the following responses for various subtasks of a complex task, " +
		"please produce a coherent, unified final answer that integrates all the information into a well-organized and comprehensive response.\n\n" +
		"Responses:\n" + strings.Join(capability.FormatEntries(entries), "\n\n") + "\n\n" +
		"Complex Task: " + task + "\n\n" +
		"Please provide the final answer in a clear and coherent manner."
}

func rankPrompt(task string, candidates []directory.WorkerProfile) string {
	agents := make([]string, len(candidates))
	for i, p := range candidates {
		agents[i] = fmt.Sprintf("%s: %s (Reputation score: %g)", p.ID, p.CapabilityText, p.Reputation)
	}

	return "You are an expert in delegating tasks to AI agents. Given the subtask and the list of available agents with their capabilities and reputation scores, " +
		"decide which agents are best suited to handle the subtask. Prioritize agents that are highly relevant to the subtask and have a high reputation score. " +
		"For example, if the subtask is about numerical calculations, choose agents whose description mentions 'arithmetic' or 'mathematical', " +
		"and among them, prioritize those with a higher reputation score.\n\n" +
		"Subtask: " + task + "\n\n" +
		"Agents:\n" + strings.Join(agents, "\n") + "\n\n" +
		`Return your answer as a raw JSON array of agent names (e.g., ["Node_A", "Node_C"]), best first. Only return the JSON array.`
}

func scorePrompt(task, capabilityText string) string {
	return "You are an expert evaluator. Please rate on a scale of 1 to 10 how well the following " +
		"agent description matches the given subtask. Provide only the number as your answer.\n\n" +
		"Subtask: " + task + "\n\n" +
		"Agent Description: " + capabilityText + "\n" +
		"Answer (number only):"
}

func followUpPrompt(id, task string, result capability.Answer) string {
	rendered, _ := json.Marshal(result)

	return "You are an expert analyst. Based on the validated result of a subtask, determine whether any additional steps are required " +
		"to ensure the overall solution is complete and correct. If additional steps are needed, return a raw JSON array of objects, " +
		"each with the keys: 'id' (a unique identifier, e.g., 'A1'), 'task' (description of the additional step), and 'blocking' (a boolean indicating if the step is crucial). " +
		"If no additional steps are needed, return an empty array.\n\n" +
		"Subtask ID: " + id + "\n" +
		"Subtask: " + task + "\n" +
		"Validated Result: " + string(rendered) + "\n\n" +
		"Return only the raw JSON array, with no surrounding text or code fences."
}

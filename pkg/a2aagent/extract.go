package a2aagent

import (
	"strings"

	"github.com/kadirpekel/agentdial/pkg/result"
)

// extractPayload pulls the structured outcome out of a completed task.
// The last artifact is authoritative, and within it the last data part.
// Text parts are collected as human-readable metadata, never merged into
// the payload.
func extractPayload(task *Task) (map[string]any, map[string]any) {
	var payload map[string]any
	var texts []string

	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			switch part.Kind {
			case PartKindData:
				if part.Data != nil {
					payload = part.Data
				}
			case PartKindText:
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
		}
	}

	// No artifacts: the status message may still carry the outcome.
	if payload == nil && len(texts) == 0 && task.Status.Message != nil {
		for _, part := range task.Status.Message.Parts {
			switch part.Kind {
			case PartKindData:
				if part.Data != nil {
					payload = part.Data
				}
			case PartKindText:
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}

	meta := map[string]any{}
	if task.ContextID != "" {
		meta[result.MetaContextID] = task.ContextID
	}
	if len(texts) > 0 {
		meta[result.MetaText] = strings.Join(texts, "\n")
	}
	return payload, meta
}

// resultFromMessage handles agents that answer message/send with a direct
// message instead of a task. The exchange is complete in one round trip.
func resultFromMessage(msg *Message) result.TaskResult {
	var payload map[string]any
	var texts []string
	for _, part := range msg.Parts {
		switch part.Kind {
		case PartKindData:
			if part.Data != nil {
				payload = part.Data
			}
		case PartKindText:
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	meta := map[string]any{}
	if msg.ContextID != "" {
		meta[result.MetaContextID] = msg.ContextID
	}
	if len(texts) > 0 {
		meta[result.MetaText] = strings.Join(texts, "\n")
	}
	return result.Normalize(payload, msg.TaskID, meta)
}

// failureReason digs the failure explanation out of the status message.
func failureReason(task *Task) string {
	if text := statusText(task); text != "" {
		return text
	}
	return "task failed without explanation"
}

// promptText returns the agent's question for an input-required task.
func promptText(task *Task) string {
	return statusText(task)
}

func statusText(task *Task) string {
	if task.Status.Message == nil {
		return ""
	}
	var texts []string
	for _, part := range task.Status.Message.Parts {
		if part.Kind == PartKindText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

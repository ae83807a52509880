package orchestrator

import "github.com/aivira/jobchat/internal/domain"

// InputMode is the affordance offered to the user for their next input.
type InputMode string

const (
	InputText     InputMode = "text"
	InputTextarea InputMode = "textarea"
	InputNumber   InputMode = "number"
	InputDate     InputMode = "date"
	InputFile     InputMode = "file"
	InputDisabled InputMode = "disabled"
)

// InputModeFor derives the input affordance from the type of the most recent
// bot message. It is total: every message type maps to exactly one mode.
// Structured prompts map to disabled because the next user action must come
// from the rendered control, not free text.
func InputModeFor(t domain.MessageType) InputMode {
	switch t {
	case domain.MessageText, domain.MessageInputText, domain.MessageError:
		return InputText
	case domain.MessageInputTextarea:
		return InputTextarea
	case domain.MessageInputNumber:
		return InputNumber
	case domain.MessageInputDate:
		return InputDate
	case domain.MessageFileUpload:
		return InputFile
	case domain.MessageButtons, domain.MessageBoolean, domain.MessageMultiSelect,
		domain.MessageLoading, domain.MessagePreview, domain.MessageButtonClick:
		return InputDisabled
	default:
		return InputDisabled
	}
}

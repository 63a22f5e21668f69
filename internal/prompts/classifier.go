package prompts

import "fmt"

// doneClassifierSystem instructs the cheap model that decides whether
// the voice session should close after a turn. The contract is a bare
// YES or NO; anything else is treated as NO by the caller.
const doneClassifierSystem = `You decide whether a voice conversation is finished after the latest exchange. The user talks to a baby tracker through a smart speaker.

Answer YES if the exchange sounds complete: the user's request was handled and acknowledged, or the user said goodbye, thanks, or similar.

Answer NO if the assistant asked a question, the user seems mid-task, or more input is clearly expected.

Respond with exactly one word: YES or NO.`

// DoneClassifier returns the system prompt for the end-of-conversation
// check.
func DoneClassifier() string {
	return doneClassifierSystem
}

// DoneClassifierTurn formats the latest exchange for classification.
func DoneClassifierTurn(userText, reply string) string {
	return fmt.Sprintf("User said: %q\nAssistant replied: %q\n\nIs this conversation finished?", userText, reply)
}

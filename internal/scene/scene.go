// Package scene turns a captured frame into a named game state by
// evaluating an ordered list of recognition rules.
package scene

import "image"

// State identifies what is currently on screen.
type State string

const (
	// Unknown means no rule matched the frame.
	Unknown State = "unknown"
	// Loading covers splash and transition screens where input is ignored.
	Loading State = "loading"
	// MainMenu is the game's home screen.
	MainMenu State = "main_menu"
	// InBattle means combat is in progress.
	InBattle State = "in_battle"
	// InDialogue means a story or NPC dialogue is showing.
	InDialogue State = "in_dialogue"
	// PopupBlocking means a modal popup is covering the screen and must
	// be dismissed before anything else can proceed.
	PopupBlocking State = "popup_blocking"
)

// Custom builds a state for game screens beyond the built-in set, such
// as specific menus defined in rule files.
func Custom(name string) State {
	return State(name)
}

// Rule maps recognition features to a scene. Every listed template
// must match and every listed text must be found for the rule to fire.
type Rule struct {
	Scene State

	// Templates names entries in the template registry. All must match.
	Templates []string

	// Texts are substrings that OCR must find on screen. All must be
	// present. Rules with texts never fire when no recognizer is wired.
	Texts []string

	// DismissAt is where to tap to clear the scene, set for popups.
	DismissAt *image.Point
}

// Result is the outcome of classifying one frame.
type Result struct {
	State      State
	Confidence float64
	// DismissAt is copied from the matched rule when present.
	DismissAt *image.Point
}

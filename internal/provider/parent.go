package provider

import "github.com/tonimelisma/gdrive-go/internal/drive"

// parentHintKey is the private app property recording the parent an
// object was filed under when this application created or moved it.
const parentHintKey = "pid"

// resolveParents returns f's parent ids. Items shared directly with the
// account come back without parents; for those the recorded parent hint
// is used, falling back to the root. The result is advisory: the true
// parent of a cross-account share may be invisible to this account.
func resolveParents(f *drive.File, rootID string) []string {
	if len(f.Parents) > 0 {
		return f.Parents
	}

	if !f.Shared || f.ID == rootID {
		return nil
	}

	if pid := f.AppProperties[parentHintKey]; pid != "" {
		return []string{pid}
	}

	if rootID == "" {
		return nil
	}

	return []string{rootID}
}

// parentHint returns the app properties to write when filing an object
// under parentID. Objects directly under the root need no hint.
func parentHint(parentID, rootID string) map[string]string {
	if parentID == "" || parentID == rootID {
		return nil
	}

	return map[string]string{parentHintKey: parentID}
}

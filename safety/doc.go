// Package safety classifies commands proposed by the model before they run.
//
// Classification is pure: Classify inspects only its arguments and a fixed
// table of known-safe command shapes, and returns an Assessment telling the
// caller to run the command, ask the user first, or refuse outright. The
// same inputs always produce the same Assessment, so callers may classify
// speculatively or out of order.
//
// Patch applications (apply_patch invocations) are special-cased: they are
// assessed by the paths the patch touches rather than as opaque shell
// commands, so an edit confined to the session's writable roots can be
// auto-approved even though arbitrary shell commands cannot.
package safety

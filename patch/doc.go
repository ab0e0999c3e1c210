// Package patch parses and applies the restricted patch dialect that coding
// agents emit through the apply_patch tool.
//
// A patch is a line-oriented document wrapped in "*** Begin Patch" and
// "*** End Patch" markers. It contains one or more file sections:
//
//	*** Add File: <path>      body lines prefixed with '+'
//	*** Delete File: <path>   no body
//	*** Update File: <path>   optional "*** Move to: <path>", then hunks
//
// Each update hunk starts with "@@" (optionally followed by a context label)
// and holds context lines (' '-prefixed, or bare when the prefix was
// dropped), removed lines ('-') and added lines ('+'). "*** End of File"
// pins a hunk to the end of the file.
//
// The engine performs no I/O of its own: callers supply a FileSystem whose
// Open, Write and Remove methods back every read and mutation, so the whole
// pipeline is testable against an in-memory map.
package patch

package expand

import "fmt"

// ExtensionConstructionError reports that no declared value slot of an
// extension type accepted the supplied value.
type ExtensionConstructionError struct {
	Tag   string
	Value any
}

func (e *ExtensionConstructionError) Error() string {
	return fmt.Sprintf("expand: no value slot of extension %q accepts %v", e.Tag, e.Value)
}

// ExtensionConflictError reports a duplicate or mutually exclusive pair of
// extension tags within one extension list.
type ExtensionConflictError struct {
	Tag   string
	Other string // equal to Tag for duplicates
}

func (e *ExtensionConflictError) Error() string {
	if e.Tag == e.Other {
		return fmt.Sprintf("expand: extension %q can only appear once", e.Tag)
	}
	return fmt.Sprintf("expand: extensions %q and %q cannot appear together", e.Tag, e.Other)
}

// LengthMismatchError reports sibling list columns of unequal length,
// which indicates structurally corrupt flattened data. Column names the
// offending column when known.
type LengthMismatchError struct {
	Group  string
	Column string
	Want   int
	Got    int
}

func (e *LengthMismatchError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("expand: column %q under %q has length %d, sibling lists have %d",
			e.Column, e.Group, e.Got, e.Want)
	}
	return fmt.Sprintf("expand: sibling lists under %q have mismatched lengths (%d vs %d)", e.Group, e.Want, e.Got)
}

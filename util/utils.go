package util

import (
	"log"
	"os"
	"path/filepath"
	"unicode"
)

func GetAbsolutePath(relativePath string) string {
	if filepath.IsAbs(relativePath) {
		return relativePath
	}

	// Get the current working directory
	root, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	// Join the current working directory with the relative path
	absolutePath := filepath.Join(root, relativePath)

	return absolutePath
}

// TitleCase upper-cases the first rune, turning file-derived kinds like
// "patient" into their canonical "Patient" form.
func TitleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

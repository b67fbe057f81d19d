package ui

import "fmt"

// PrintSuccess prints a green result line.
func PrintSuccess(message string) {
	fmt.Println(SuccessTitleStyle.Render(SuccessMarker + " " + message))
}

// PrintError prints a red result line.
func PrintError(message string) {
	fmt.Println(ErrorTitleStyle.Render(FailureMarker + " " + message))
}

// PrintWarning prints an orange warning line.
func PrintWarning(message string) {
	fmt.Println(WarningStyle.Render("! " + message))
}

// PrintDetail prints an aligned key/value detail line.
func PrintDetail(key, value string) {
	fmt.Printf("  %s %s\n", DetailKeyStyle.Render(key+":"), DetailValueStyle.Render(value))
}

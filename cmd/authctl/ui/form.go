package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/smsinbox/site-api/cmd/authctl/admin"
	"github.com/smsinbox/site-api/internal/auth"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(12)
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// RunUserForm prompts for the fields of u that are still empty.
func RunUserForm(u *admin.NewUser) error {
	var fields []huh.Field

	if u.Email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Placeholder("ops@example.com").
			Value(&u.Email).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("email is required")
				}
				return nil
			}))
	}

	if u.Password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			Description("8-128 characters with an uppercase letter, a lowercase letter and a digit").
			EchoMode(huh.EchoModePassword).
			Value(&u.Password).
			Validate(auth.ValidatePasswordStrength))
	}

	fields = append(fields, huh.NewConfirm().
		Title("Mark email as verified?").
		Affirmative("Yes").
		Negative("No").
		Value(&u.Verified))

	form := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeCatppuccin())
	if err := form.Run(); err != nil {
		return err
	}

	u.Email = strings.TrimSpace(u.Email)
	return nil
}

// PrintTitle prints a section heading.
func PrintTitle(title string) {
	fmt.Println(headingStyle.Render(title))
}

// PrintSuccess prints a success line.
func PrintSuccess(msg string) {
	fmt.Println(okStyle.Render(msg))
}

// PrintDetail prints an indented key/value line.
func PrintDetail(key, value string) {
	fmt.Printf("  %s %s\n", keyStyle.Render(key), value)
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Println(failStyle.Render("Error: " + msg))
}

// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/issue"
)

func newTroubleshootCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "troubleshoot [issue]",
		Short: "Show remediation guidance for known failures",
		Long: `Troubleshoot prints the remediation guidance shown when a build fails.
Run it without arguments to list every known failure class, or with an
issue number to read one in full.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listIssues(app)
			}
			return showIssue(app, root, args[0])
		},
	}
}

func listIssues(app *App) error {
	fmt.Fprintln(app.stdout, TitleStyle.Render("Known failure classes"))
	for _, iss := range issue.Values() {
		fmt.Fprintf(app.stdout, "  %2d  %s\n", int(iss.Id()), issueTitle(iss))
	}
	fmt.Fprintf(app.stdout, "\n%s\n", SubtitleStyle.Render("Run 'teleport-spk troubleshoot <number>' for details."))
	return nil
}

func showIssue(app *App, root *rootFlags, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("issue must be a number, got %q", arg)
	}
	iss := issue.Get(issue.Id(n))
	if iss == nil {
		return fmt.Errorf("no issue %d, run 'teleport-spk troubleshoot' for the list", n)
	}
	rendered, err := iss.Render(issueStyle(root))
	if err != nil {
		return fmt.Errorf("rendering issue %d: %w", n, err)
	}
	fmt.Fprint(app.stdout, rendered)
	return nil
}

// issueTitle extracts the first heading of an issue's markdown.
func issueTitle(iss *issue.Issue) string {
	for _, line := range strings.Split(string(iss.MarkdownMsg()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimLeft(line, "# ")
	}
	return ""
}

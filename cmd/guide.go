// guide.go implements the "geocatctl guide" command for documentation
// access.
//
// Design: guides are embedded in the binary via the guide package, so the
// documentation is always available without external files. Terminal output
// gets glamour rendering for readability; pipe/redirect gets raw markdown.

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/geocat-ops/geocatctl/guide"
)

var guideCmd = &cobra.Command{
	Use:   "guide [topic]",
	Short: "Show the geocatctl usage guide",
	Long: `Outputs the geocatctl guide.

  geocatctl guide            # overview
  geocatctl guide backup     # backup details
  geocatctl guide restore    # restore and reconciliation details`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		content, err := guide.Get(name)
		if err != nil {
			available, listErr := guide.List()
			if listErr != nil {
				return listErr
			}
			return fmt.Errorf("guide %q not found. Available: %s", name, strings.Join(available, ", "))
		}

		if term.IsTerminal(int(os.Stdout.Fd())) {
			rendered, err := glamour.Render(content, "dark")
			if err == nil {
				fmt.Fprint(out, rendered)
				return nil
			}
		}

		fmt.Fprint(out, content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guideCmd)
}

// search.go implements the "geocatctl search" command: deep paginated
// record searches printed as one UUID per line, for piping into other
// tooling.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geocat-ops/geocatctl/internal/geocat"
)

var searchOpts struct {
	withTemplates bool
	noHarvested   bool
	validOnly     bool
	publishedOnly bool
	anonymous     bool
	inGroups      []string
	notInGroups   []string
	keywords      []string
	freeText      string
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List the UUIDs of records matching a set of filters",
	Long: `Runs a deep search against the records index and prints every matching
UUID, one per line, beyond any single page of results.

An authenticated session sees restricted records as well; pass --anonymous
to search only what the public sees.

  geocatctl search --no-harvested --keyword Opendata
  geocatctl search --in-group Editor-CH --valid-only`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := searchSession(cmd)
		if err != nil {
			return err
		}

		uuids, err := client.SearchUUIDs(cmd.Context(), geocat.BuildQuery(geocat.SearchOptions{
			WithTemplates: searchOpts.withTemplates,
			NoHarvested:   searchOpts.noHarvested,
			ValidOnly:     searchOpts.validOnly,
			PublishedOnly: searchOpts.publishedOnly,
			InGroups:      searchOpts.inGroups,
			NotInGroups:   searchOpts.notInGroups,
			Keywords:      searchOpts.keywords,
			FreeText:      searchOpts.freeText,
		}))
		if err != nil {
			return err
		}

		for _, id := range uuids {
			fmt.Fprintln(out, id)
		}
		status().Printf("%d records\n", len(uuids))
		return nil
	},
}

func searchSession(cmd *cobra.Command) (*geocat.Client, error) {
	if searchOpts.anonymous {
		return newAnonymousSession(cmd.Context())
	}
	return newSession(cmd.Context())
}

func init() {
	f := searchCmd.Flags()
	f.BoolVar(&searchOpts.withTemplates, "templates", false, "include templates as well as records")
	f.BoolVar(&searchOpts.noHarvested, "no-harvested", false, "exclude harvested records")
	f.BoolVar(&searchOpts.validOnly, "valid-only", false, "only records whose validation passed")
	f.BoolVar(&searchOpts.publishedOnly, "published-only", false, "only publicly visible records")
	f.BoolVar(&searchOpts.anonymous, "anonymous", false, "search without logging in")
	f.StringSliceVar(&searchOpts.inGroups, "in-group", nil, "restrict to owning groups (repeatable)")
	f.StringSliceVar(&searchOpts.notInGroups, "not-in-group", nil, "exclude owning groups (repeatable)")
	f.StringSliceVar(&searchOpts.keywords, "keyword", nil, "keyword matched across all language fields (repeatable)")
	f.StringVar(&searchOpts.freeText, "query", "", "raw query-string clause AND-ed into the predicate")

	rootCmd.AddCommand(searchCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Origamihase/wien-oepnv/internal/stations"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Inspect the station catalogue",
}

var stationsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the catalogue for alias collisions and gaps",
	Long: `Load the station catalogue and report spellings that resolve to more
than one station, plus entries without coordinates or regional ids.
Collisions fail the command because lookups silently keep the first
entry; gaps are informational.`,
	Args: cobra.NoArgs,
	RunE: runStationsValidate,
}

func init() {
	rootCmd.AddCommand(stationsCmd)
	stationsCmd.AddCommand(stationsValidateCmd)

	stationsValidateCmd.Flags().Bool("gaps", false, "list stations missing coordinates or regional ids")
}

func runStationsValidate(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	listGaps, _ := cmd.Flags().GetBool("gaps")
	out := cmd.OutOrStdout()

	f := validateCatalogue(app.catalog)
	for _, c := range f.Collisions {
		fmt.Fprintf(out, "collision: %s\n", c)
	}
	if listGaps {
		for _, name := range f.NoCoordinates {
			fmt.Fprintf(out, "no coordinates: %s\n", name)
		}
		for _, name := range f.NoRegionalIDs {
			fmt.Fprintf(out, "no regional ids: %s\n", name)
		}
	}
	fmt.Fprintf(out, "%d stations: %d alias collisions, %d without coordinates, %d without regional ids\n",
		f.Stations, len(f.Collisions), len(f.NoCoordinates), len(f.NoRegionalIDs))

	if len(f.Collisions) > 0 {
		return fmt.Errorf("station catalogue has %d alias collisions", len(f.Collisions))
	}
	return nil
}

// catalogueFindings is the outcome of one catalogue check.
type catalogueFindings struct {
	Stations      int
	Collisions    []string
	NoCoordinates []string
	NoRegionalIDs []string
}

// validateCatalogue folds every spelling the way lookups do and reports
// keys claimed by more than one station.
func validateCatalogue(c *stations.Catalogue) catalogueFindings {
	f := catalogueFindings{Stations: c.Len()}
	owner := make(map[string]string)

	for _, st := range c.All() {
		spellings := append([]string{st.Name}, st.Aliases...)
		for _, sp := range spellings {
			key := stations.Fold(sp)
			if key == "" {
				continue
			}
			if prev, taken := owner[key]; taken {
				if prev != st.Name {
					f.Collisions = append(f.Collisions,
						fmt.Sprintf("%q (as %q) resolves to %q", st.Name, sp, prev))
				}
				continue
			}
			owner[key] = st.Name
		}
		if st.Lat == nil || st.Lon == nil {
			f.NoCoordinates = append(f.NoCoordinates, st.Name)
		}
		if len(st.VORIDs) == 0 && st.VORID == "" {
			f.NoRegionalIDs = append(f.NoRegionalIDs, st.Name)
		}
	}
	return f
}

package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/profile"
	"github.com/teranos/zbulk/zoho"
)

// ProfilesCmd lists connection profiles
var ProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List connection profiles",
	Long: `List the connection profiles from the profiles file (profiles.path).
Tokens are never printed; the TOKEN column shows where each token comes from.`,
	Args: cobra.NoArgs,
	RunE: runProfiles,
}

var profilesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace a connection profile",
	Long: `Add a profile to the profiles file, replacing any profile with the same name.
The previous file is kept as <path>.back1. Prefer --token-env over putting the
token itself in the file.`,
	Example: `  zbulk profiles add acme --dc eu --org-id 20071234 --token-env ACME_ZOHO_TOKEN \
      --param portal=acme`,
	Args: cobra.ExactArgs(1),
	RunE: runProfilesAdd,
}

var (
	profileDataCenter string
	profileOrgID      string
	profileTokenEnv   string
	profileParams     map[string]string
)

func init() {
	profilesAddCmd.Flags().StringVar(&profileDataCenter, "dc", "", "Data center code (defaults to zoho.data_center)")
	profilesAddCmd.Flags().StringVar(&profileOrgID, "org-id", "", "Organisation ID")
	profilesAddCmd.Flags().StringVar(&profileTokenEnv, "token-env", "", "Environment variable holding the access token")
	profilesAddCmd.Flags().StringToStringVar(&profileParams, "param", nil, "Product parameter key=value (repeatable)")
	ProfilesCmd.AddCommand(profilesAddCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	store, err := profile.NewFileStore(cfg.Profiles.Path, cfg.Zoho.DataCenter)
	if err != nil {
		return err
	}

	profiles := store.List()
	if len(profiles) == 0 {
		fmt.Printf("No profiles in %s\n", store.Path())
		return nil
	}

	fmt.Printf("%-20s %-8s %-16s %s\n", "NAME", "DC", "ORG", "TOKEN")
	fmt.Printf("%-20s %-8s %-16s %s\n", "----", "--", "---", "-----")
	for _, p := range profiles {
		fmt.Printf("%-20s %-8s %-16s %s\n", p.Name, p.DataCenter, p.OrgID, tokenSource(p))
	}
	fmt.Printf("\nTotal: %d profile(s) from %s\n", len(profiles), store.Path())
	return nil
}

func runProfilesAdd(cmd *cobra.Command, args []string) error {
	p, err := buildProfile(args[0])
	if err != nil {
		return err
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	store, err := profile.NewFileStore(cfg.Profiles.Path, cfg.Zoho.DataCenter)
	if err != nil {
		return err
	}
	if err := store.Put(p); err != nil {
		return err
	}

	saved, err := store.Get(p.Name)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Saved profile %s (%s, token %s) to %s", saved.Name, saved.DataCenter, tokenSource(saved), store.Path())
	return nil
}

// buildProfile turns the add flags into a profile. An empty data center is
// left for the store to default.
func buildProfile(name string) (profile.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return profile.Profile{}, errors.NewInvalidRequestError("profile name is required")
	}

	dc := strings.ToLower(strings.TrimSpace(profileDataCenter))
	if dc != "" {
		if _, ok := zoho.DataCenters[dc]; !ok {
			return profile.Profile{}, errors.WithHint(
				errors.NewInvalidRequestError("unknown data center %q", profileDataCenter),
				"known data centers: "+strings.Join(zoho.DataCenterCodes(), ", "))
		}
	}

	p := profile.Profile{
		Name:       name,
		DataCenter: dc,
		OrgID:      profileOrgID,
		TokenEnv:   profileTokenEnv,
	}
	if len(profileParams) > 0 {
		p.Params = make(map[string]any, len(profileParams))
		for k, v := range profileParams {
			p.Params[k] = v
		}
	}
	return p, nil
}

// tokenSource describes where a profile's token comes from without showing it
func tokenSource(p profile.Profile) string {
	switch {
	case p.AccessToken != "":
		return "file"
	case p.TokenEnv != "" && p.Token() != "":
		return "$" + p.TokenEnv
	case p.TokenEnv != "":
		return "$" + p.TokenEnv + " (unset)"
	default:
		return "missing"
	}
}

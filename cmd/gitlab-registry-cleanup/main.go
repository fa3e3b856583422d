package main

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sciapp/gitlab-registry-cleanup/pkg/cleanup"
	"github.com/sciapp/gitlab-registry-cleanup/pkg/config"
	"github.com/sciapp/gitlab-registry-cleanup/pkg/gitlab"
	"github.com/sciapp/gitlab-registry-cleanup/pkg/registry"
)

const version = "0.5.1"

var (
	gitlabServer    string
	registryServer  string
	credentialsFile string
	username        string
	registryRoot    string
	dryRun          bool
)

var rootCmd = &cobra.Command{
	Use:   "gitlab-registry-cleanup",
	Short: "Clean up a GitLab registry by soft deleting untagged images",
	Long: `gitlab-registry-cleanup inspects the local content store of a self-hosted
GitLab container registry, finds image digests that no tag points to anymore
and soft deletes them through the registry API. Run the registry garbage
collector afterwards to reclaim the freed blob storage.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCleanup,
}

func init() {
	rootCmd.Flags().StringVarP(&gitlabServer, "gitlab-server", "g", "", "GitLab server hostname (for example mygitlab.com)")
	rootCmd.Flags().StringVarP(&registryServer, "registry-server", "r", "", "GitLab registry server hostname (for example registry.mygitlab.com)")
	rootCmd.Flags().StringVarP(&credentialsFile, "credentials-file", "c", "", "path to a file containing username and password/access token (on two separate lines)")
	rootCmd.Flags().StringVarP(&username, "user", "u", config.DefaultUsername, "user account for querying the GitLab API")
	rootCmd.Flags().StringVarP(&registryRoot, "registry-path", "p", config.DefaultRoot(), "local path to the registry content store")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only print which images would be deleted")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if err := config.ValidateServers(gitlabServer, registryServer); err != nil {
		return err
	}

	gitlabHost, err := config.NormalizeServerName(gitlabServer)
	if err != nil {
		return err
	}
	registryHost, err := config.NormalizeServerName(registryServer)
	if err != nil {
		return err
	}

	user, password := username, ""
	if credentialsFile != "" {
		user, password, err = config.ReadCredentialsFile(credentialsFile)
		if err != nil {
			return err
		}
	} else {
		password, err = promptPassword(user)
		if err != nil {
			return err
		}
	}

	local := registry.NewLocalRegistry(registryRoot)
	client := gitlab.NewClient(gitlabHost, registryHost, user, password)

	stats, err := cleanup.Run(local, client, dryRun, consoleOutput(dryRun))
	if err != nil {
		return err
	}
	stats.Log()

	// Individual delete failures were already reported; they do not make
	// the run itself fail.
	return nil
}

// promptPassword asks for the account password on the terminal.
func promptPassword(username string) (string, error) {
	var password string
	prompt := &survey.Password{
		Message: fmt.Sprintf("Password for %s:", username),
	}
	if err := survey.AskOne(prompt, &password, survey.WithValidator(survey.Required)); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// consoleOutput reports every deletion attempt on stdout, one line per
// digest, in the same phrasing for real and simulated runs.
func consoleOutput(dryRun bool) cleanup.NotifyFunc {
	return func(repository, digest string, successful bool) {
		image := color.BlueString(digest)
		repo := color.CyanString(repository)
		switch {
		case !dryRun && successful:
			fmt.Printf("Deleted image %s in repository %s.\n", image, repo)
		case !dryRun:
			fmt.Printf("Could not delete image %s in repository %s.\n", image, repo)
		case successful:
			fmt.Printf("Would delete image %s in repository %s.\n", image, repo)
		default:
			fmt.Printf("Would delete image %s in repository %s %s.\n", image, repo, color.RedString("but without success"))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/config"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/repo"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a completion script for opvc. Revision arguments (checkout,
show, describe, new) complete to bookmarks, tags, "@" and "root" when run
inside a repository.

Load completions in the current shell:

  Bash:       source <(opvc completion bash)
  Zsh:        source <(opvc completion zsh)
  Fish:       opvc completion fish | source
  PowerShell: opvc completion powershell | Out-String | Invoke-Expression

Install them for every new shell:

  Bash:  opvc completion bash > ~/.local/share/bash-completion/completions/opvc
  Zsh:   opvc completion zsh > "${fpath[1]}/_opvc"
  Fish:  opvc completion fish > ~/.config/fish/completions/opvc.fish`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return genCompletion(cmd.Root(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, cmd := range []*cobra.Command{checkoutCmd, showCmd, describeCmd, newCmd} {
		cmd.ValidArgsFunction = completeRevisions
	}
	bookmarkSetCmd.ValidArgsFunction = completeBookmarks
	bookmarkDeleteCmd.ValidArgsFunction = completeBookmarks
}

func genCompletion(root *cobra.Command, w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	}
	return fmt.Errorf("unsupported shell %q", shell)
}

// completionView loads the head view without exiting on failure, since
// completion runs outside repositories too.
func completionView(ctx context.Context) (*models.View, bool) {
	cfg, err := config.Load()
	if err != nil {
		return nil, false
	}
	loader, err := repo.Load(ctx, cfg.RepoPath(), cfg.Settings(), logger)
	if err != nil {
		return nil, false
	}
	defer loader.Close()
	r, err := loader.LoadAtHead(ctx)
	if err != nil {
		return nil, false
	}
	return r.View(), true
}

func completeRevisions(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	view, ok := completionView(cmd.Context())
	if !ok {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return revisionCandidates(view, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func completeBookmarks(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	view, ok := completionView(cmd.Context())
	if !ok {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return withPrefix(sortedKeys(view.LocalBookmarks), toComplete), cobra.ShellCompDirectiveNoFileComp
}

// revisionCandidates lists the symbolic revisions resolveRevision accepts.
func revisionCandidates(view *models.View, prefix string) []string {
	names := []string{"@", "root"}
	names = append(names, sortedKeys(view.LocalBookmarks)...)
	for _, tag := range sortedKeys(view.Tags) {
		if _, ok := view.LocalBookmarks[tag]; !ok {
			names = append(names, tag)
		}
	}
	return withPrefix(names, prefix)
}

func withPrefix(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

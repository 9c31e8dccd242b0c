package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"appmerge/internal/analyzer"
	"appmerge/internal/config"
	"appmerge/internal/diffgen"
	"appmerge/internal/store"
	"appmerge/internal/types"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "appmerge",
	Short: "Three-way merge analyzer for Appian application packages",
	Long: `appmerge compares three Appian application packages: the vendor base
your customizations started from (A), your customized package (B), and the
new vendor release (C).

It computes what the vendor changed, what you changed, classifies every
object into NO_CONFLICT / CONFLICT / NEW / DELETED, and produces a
dependency-ordered review queue you can work through with the review,
diff, and complete commands.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [base.zip] [customized.zip] [new-vendor.zip]",
	Short: "Run a full merge analysis over three packages",
	Long: `Runs the ten-step analysis pipeline and persists the session.
On success the session reference id (MRG_NNN) is printed; use it with the
show, review, diff, and complete commands.`,
	Args: cobra.ExactArgs(3),
	RunE: runAnalyze,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List analysis sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var showCmd = &cobra.Command{
	Use:   "show [MRG_NNN]",
	Short: "Show a session's change list in review order",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var reviewCmd = &cobra.Command{
	Use:   "review [MRG_NNN] [object-uuid] [reviewed|skipped|pending]",
	Short: "Set the review status of one change",
	Args:  cobra.ExactArgs(3),
	RunE:  runReview,
}

var completeCmd = &cobra.Command{
	Use:   "complete [MRG_NNN]",
	Short: "Complete a session once every queued change is reviewed or skipped",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

var diffCmd = &cobra.Command{
	Use:   "diff [MRG_NNN] [object-uuid]",
	Short: "Print the unified diff of one object between two packages",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var (
	// show flags
	filterClassifications []string
	filterTypes           []string
	filterStatuses        []string
	filterSearch          string

	// review flags
	reviewNotes string

	// diff flags
	diffPair string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "appmerge.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	showCmd.Flags().StringSliceVar(&filterClassifications, "classification", nil,
		"Filter by classification (NO_CONFLICT, CONFLICT, NEW, DELETED)")
	showCmd.Flags().StringSliceVar(&filterTypes, "type", nil,
		"Filter by object type (Interface, Constant, ...)")
	showCmd.Flags().StringSliceVar(&filterStatuses, "status", nil,
		"Filter by review status (pending, reviewed, skipped)")
	showCmd.Flags().StringVar(&filterSearch, "search", "",
		"Case-insensitive substring match on object name")

	reviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "Attach a free-text note to the change")

	diffCmd.Flags().StringVar(&diffPair, "pair", "base:new_vendor",
		"Package pair to diff (base:customized, base:new_vendor, customized:new_vendor)")

	rootCmd.AddCommand(analyzeCmd, sessionsCmd, showCmd, reviewCmd, completeCmd, diffCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.Storage.DatabasePath, logger)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := analyzer.New(st, cfg, logger)
	if err != nil {
		return err
	}
	a.OnStep(func(ev types.StepEvent) {
		fmt.Printf("[%d/%d] %s (%s)\n", ev.StepIndex, ev.TotalSteps, ev.Name,
			ev.Elapsed.Round(1e6))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := a.Run(ctx, analyzer.Request{
		BasePath:       args[0],
		CustomizedPath: args[1],
		NewVendorPath:  args[2],
	})
	if err != nil {
		return err
	}

	sum, err := st.SessionSummary(ctx, sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nSession %s is %s\n", sess.ReferenceID, sess.Status)
	fmt.Printf("  %d changes", sum.TotalChanges)
	if sum.TotalChanges > 0 {
		parts := make([]string, 0, len(sum.ByClassification))
		for _, cls := range []types.Classification{
			types.ClassNoConflict, types.ClassConflict, types.ClassNew, types.ClassDeleted,
		} {
			if n := sum.ByClassification[cls]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, cls))
			}
		}
		fmt.Printf(" (%s)", strings.Join(parts, ", "))
	}
	fmt.Printf("\n\nNext: appmerge show %s\n", sess.ReferenceID)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Run: appmerge analyze <base> <customized> <new-vendor>")
		return nil
	}

	fmt.Printf("%-10s %-12s %-10s %-8s %s\n", "REFERENCE", "STATUS", "REVIEWED", "SKIPPED", "CREATED")
	for _, s := range sessions {
		fmt.Printf("%-10s %-12s %-10d %-8d %s\n",
			s.ReferenceID, s.Status, s.ReviewedCount, s.SkippedCount,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := st.SessionByReference(ctx, args[0])
	if err != nil {
		return err
	}

	filter := store.ChangeFilter{NameSearch: filterSearch}
	for _, c := range filterClassifications {
		filter.Classifications = append(filter.Classifications, types.Classification(strings.ToUpper(c)))
	}
	for _, t := range filterTypes {
		filter.ObjectTypes = append(filter.ObjectTypes, types.ObjectType(t))
	}
	for _, s := range filterStatuses {
		filter.Statuses = append(filter.Statuses, types.ReviewStatus(strings.ToLower(s)))
	}

	changes, err := st.ListChanges(ctx, sess.ID, filter)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s): %d changes\n\n", sess.ReferenceID, sess.Status, len(changes))
	if len(changes) == 0 {
		return nil
	}

	fmt.Printf("%-5s %-12s %-16s %-30s %-10s %-10s %-8s %s\n",
		"#", "CLASS", "TYPE", "NAME", "VENDOR", "CUSTOMER", "STATUS", "UUID")
	for _, c := range changes {
		idx := "-"
		if c.OrderIndex != nil {
			idx = fmt.Sprintf("%d", *c.OrderIndex)
		}
		fmt.Printf("%-5s %-12s %-16s %-30s %-10s %-10s %-8s %s\n",
			idx, c.Classification, c.Type, truncate(c.Name, 30),
			orDash(string(c.VendorKind)), orDash(string(c.CustomerKind)),
			c.ReviewStatus, c.UUID)
	}
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	status := types.ReviewStatus(strings.ToLower(args[2]))
	switch status {
	case types.StatusPending, types.StatusReviewed, types.StatusSkipped:
	default:
		return fmt.Errorf("unknown review status %q", args[2])
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := st.SessionByReference(ctx, args[0])
	if err != nil {
		return err
	}
	if err := st.UpdateReviewStatus(ctx, sess.ID, args[1], status); err != nil {
		return err
	}
	if reviewNotes != "" {
		if err := st.UpdateNotes(ctx, sess.ID, args[1], reviewNotes); err != nil {
			return err
		}
	}

	updated, err := st.SessionByID(ctx, sess.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s marked %s (reviewed %d, skipped %d)\n",
		updated.ReferenceID, args[1], status, updated.ReviewedCount, updated.SkippedCount)
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := st.SessionByReference(ctx, args[0])
	if err != nil {
		return err
	}
	if err := st.CompleteSession(ctx, sess.ID); err != nil {
		if types.IsKind(err, types.ErrPendingChanges) {
			return fmt.Errorf("%w\nUse 'appmerge show %s --status pending' to list them", err, sess.ReferenceID)
		}
		return err
	}
	fmt.Printf("Session %s completed\n", sess.ReferenceID)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldRole, newRole, err := parsePair(diffPair)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := st.SessionByReference(ctx, args[0])
	if err != nil {
		return err
	}

	oldV, err := st.VersionByRole(ctx, sess.ID, args[1], oldRole)
	if err != nil {
		return err
	}
	newV, err := st.VersionByRole(ctx, sess.ID, args[1], newRole)
	if err != nil {
		return err
	}
	if oldV == nil && newV == nil {
		return fmt.Errorf("object %s is in neither package of the pair", args[1])
	}

	name := args[1]
	var oldCode, newCode string
	if oldV != nil {
		oldCode, name = oldV.Code, oldV.Name
	}
	if newV != nil {
		newCode, name = newV.Code, newV.Name
	}

	res := diffgen.Compute(oldCode, newCode, cfg.Diff.ContextLines)
	if len(res.Hunks) == 0 {
		fmt.Printf("%s: no scripted differences between %s and %s\n", name, oldRole, newRole)
		return nil
	}

	fmt.Printf("%s (+%d -%d)\n", name, res.Additions, res.Deletions)
	fmt.Print(res.Unified(
		fmt.Sprintf("%s/%s", oldRole, name),
		fmt.Sprintf("%s/%s", newRole, name)))
	return nil
}

// parsePair splits a "left:right" package pair into roles.
func parsePair(pair string) (types.PackageRole, types.PackageRole, error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid pair %q, expected old:new", pair)
	}
	roles := map[string]types.PackageRole{
		"base":       types.RoleBase,
		"customized": types.RoleCustomized,
		"customer":   types.RoleCustomized,
		"new_vendor": types.RoleNewVendor,
		"vendor":     types.RoleNewVendor,
	}
	oldRole, ok := roles[parts[0]]
	if !ok {
		return "", "", fmt.Errorf("unknown package %q", parts[0])
	}
	newRole, ok := roles[parts[1]]
	if !ok {
		return "", "", fmt.Errorf("unknown package %q", parts[1])
	}
	return oldRole, newRole, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

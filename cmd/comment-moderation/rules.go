package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"comment-moderation/internal/rule"
	"comment-moderation/internal/store"
)

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "manage stored moderation rules",
		Subcommands: []*cli.Command{
			&cli.Command{
				Name:      "import",
				Usage:     "validate rule files and store their rules",
				ArgsUsage: "<path>...",
				Action:    runRulesImport,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "update",
						Usage: "update rules by their id instead of inserting new ones",
					},
				},
			},
			&cli.Command{
				Name:   "list",
				Usage:  "list stored rules",
				Action: runRulesList,
			},
			&cli.Command{
				Name:      "show",
				Usage:     "print one rule and its condition tree",
				ArgsUsage: "<id>",
				Action:    runRulesShow,
			},
			&cli.Command{
				Name:   "export",
				Usage:  "write all stored rules as a rule file",
				Action: runRulesExport,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "output file (default stdout)",
					},
				},
			},
			&cli.Command{
				Name:      "delete",
				Usage:     "delete a stored rule",
				ArgsUsage: "<id>",
				Action:    runRulesDelete,
			},
		},
	}
}

// loadPaths reads rules from every path, which may be a file or a directory.
func loadPaths(loader *rule.RulesLoader, paths []string) ([]rule.Rule, error) {
	var rules []rule.Rule
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		var loaded []rule.Rule
		if info.IsDir() {
			loaded, err = loader.LoadFromDirectory(p)
		} else {
			loaded, err = loader.LoadFile(p)
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return rules, nil
}

// importRules validates every rule before storing any of them. Without
// update each rule is inserted under a fresh ID.
func importRules(repo *store.Repository, v *rule.Validator, rules []rule.Rule, update bool) (int, error) {
	var errs []error
	for i := range rules {
		if err := v.Validate(&rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, rules[i].Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, err
	}

	for i := range rules {
		r := &rules[i]
		if !update {
			r.ID = 0
			r.CreatedAt = time.Time{}
		}
		if err := repo.Upsert(r); err != nil {
			return i, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
	}
	return len(rules), nil
}

func runRulesImport(cctx *cli.Context) error {
	if cctx.NArg() == 0 {
		return fmt.Errorf("need at least one rule file or directory")
	}

	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	rules, err := loadPaths(rule.NewRulesLoader(log, newCodec(cfg)), cctx.Args().Slice())
	if err != nil {
		return err
	}

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := importRules(repo, rule.NewValidator(cfg.Rules.MaxDepth, cfg.Rules.MaxPatternLength), rules, cctx.Bool("update"))
	if err != nil {
		return err
	}

	fmt.Fprintf(cctx.App.Writer, "imported %d rules\n", n)
	return nil
}

func runRulesList(cctx *cli.Context) error {
	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	rules, loadErr := repo.All()
	writeRuleTable(cctx.App.Writer, rules)
	return reportLoadErrors(cctx.App.ErrWriter, loadErr)
}

// reportLoadErrors prints one line per rule that failed to load and returns
// a summary error, or nil when every rule loaded.
func reportLoadErrors(w io.Writer, err error) error {
	errs := splitErrors(err)
	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		fmt.Fprintln(w, describeLoadError(e))
	}
	return cli.Exit(fmt.Sprintf("%d stored rules could not be loaded", len(errs)), 1)
}

// splitErrors unpacks an errors.Join result.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// describeLoadError shows missing keys and bad operators as written, since
// whoever edits the rule data can act on them. Other decode failures mean
// the stored text is damaged and needs repair by hand.
func describeLoadError(err error) string {
	if rule.IsOperatorFacing(err) {
		return err.Error()
	}
	if kind := rule.DecodeErrorKind(err); kind != 0 {
		return fmt.Sprintf("corrupted condition tree (%s): %v", kind, err)
	}
	return err.Error()
}

func writeRuleTable(w io.Writer, rules []rule.Rule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tOUTCOME\tUPDATED")
	for _, r := range rules {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n",
			r.ID, r.Name, r.Enabled, r.Outcome, r.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func parseID(cctx *cli.Context) (uint64, error) {
	arg := cctx.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("need a rule id")
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid rule id: %q", arg)
	}
	return id, nil
}

func runRulesShow(cctx *cli.Context) error {
	id, err := parseID(cctx)
	if err != nil {
		return err
	}

	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	r, err := repo.Get(id)
	if err != nil {
		return err
	}

	w := cctx.App.Writer
	fmt.Fprintf(w, "rule %d: %s\n", r.ID, r.Name)
	fmt.Fprintf(w, "enabled: %t\noutcome: %s\n", r.Enabled, r.Outcome)
	fmt.Fprintf(w, "created: %s\nupdated: %s\n\n", r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
	fmt.Fprint(w, rule.Render(r.Conditions))
	return nil
}

func runRulesExport(cctx *cli.Context) error {
	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	rules, loadErr := repo.All()
	if err := exportRules(cctx.App.Writer, cctx.String("out"), rules); err != nil {
		return err
	}
	return reportLoadErrors(cctx.App.ErrWriter, loadErr)
}

// exportRules writes rules as a rule file to path, or to w when path is
// empty.
func exportRules(w io.Writer, path string, rules []rule.Rule) error {
	if rules == nil {
		rules = []rule.Rule{}
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	_, err = w.Write(data)
	return err
}

func runRulesDelete(cctx *cli.Context) error {
	id, err := parseID(cctx)
	if err != nil {
		return err
	}

	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "deleted rule %d\n", id)
	return nil
}

func runCheck(cctx *cli.Context) error {
	if cctx.NArg() == 0 {
		return fmt.Errorf("need at least one rule file or directory")
	}

	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	rules, err := loadPaths(rule.NewRulesLoader(log, newCodec(cfg)), cctx.Args().Slice())
	if err != nil {
		return err
	}

	v := rule.NewValidator(cfg.Rules.MaxDepth, cfg.Rules.MaxPatternLength)
	failed := checkRules(cctx.App.Writer, v, rules)
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d rules are invalid", failed, len(rules)), 2)
	}
	return nil
}

// checkRules prints one line per rule and returns how many failed.
func checkRules(w io.Writer, v *rule.Validator, rules []rule.Rule) int {
	failed := 0
	for i := range rules {
		r := &rules[i]
		if err := v.Validate(r); err != nil {
			failed++
			fmt.Fprintf(w, "FAIL  %d %q: %v\n", i, r.Name, err)
			continue
		}
		fmt.Fprintf(w, "ok    %d %q\n", i, r.Name)
	}
	return failed
}

func runDecode(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	text := cctx.Args().First()
	if text == "" || text == "-" {
		data, err := io.ReadAll(cctx.App.Reader)
		if err != nil {
			return err
		}
		text = string(data)
	}

	return decodeTree(cctx.App.Writer, newCodec(cfg), text)
}

// decodeTree prints the rendered tree, or the error and its kind.
func decodeTree(w io.Writer, codec *rule.Codec, text string) error {
	g, err := codec.Decode(text)
	if err != nil {
		return cli.Exit(describeLoadError(err), 2)
	}
	fmt.Fprint(w, rule.Render(g))
	return nil
}

func runModerate(cctx *cli.Context) error {
	cfg, log, err := setup(cctx, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	var in io.Reader = cctx.App.Reader
	if p := cctx.Args().First(); p != "" && p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	comments, err := readComments(in)
	if err != nil {
		return err
	}

	repo, err := openStore(cfg, log, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	processor, err := newProcessor(cfg, log, nil)
	if err != nil {
		return err
	}

	rules := collectRules(repo, rule.NewRulesLoader(log, newCodec(cfg)), cctx.String("rules"), log)
	if err := processor.LoadRules(rules); err != nil {
		log.Warn("some rules were rejected", "error", err)
	}

	decisions, err := processor.ModerateBatch(cctx.Context, comments)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cctx.App.Writer)
	for _, d := range decisions {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

// readComments accepts a JSON array of comments or one comment per line.
func readComments(r io.Reader) ([]*rule.Comment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var comments []*rule.Comment
		if err := json.Unmarshal(data, &comments); err != nil {
			return nil, fmt.Errorf("invalid comment array: %w", err)
		}
		return comments, nil
	}

	var comments []*rule.Comment
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var c rule.Comment
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: invalid comment: %w", line, err)
		}
		comments = append(comments, &c)
	}
	return comments, scanner.Err()
}

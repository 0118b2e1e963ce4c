package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ihaywood3/spamprobe/app/storage"
	"github.com/ihaywood3/spamprobe/app/storage/engine"
	"github.com/ihaywood3/spamprobe/lib/spamprobe"
)

type options struct {
	DB      string `long:"db" env:"SPAMPROBE_DB" default:"spamprobe.db" description:"database connection, sqlite file path or postgres:// url"`
	Profile string `long:"profile" env:"SPAMPROBE_PROFILE" default:"" description:"profile name, allows multiple filters in one database"`

	MinWordLen int `long:"min-word-len" env:"SPAMPROBE_MIN_WORD_LEN" default:"3" description:"minimum token length"`
	TopWords   int `long:"top-words" env:"SPAMPROBE_TOP_WORDS" default:"15" description:"number of most discriminative tokens used for scoring"`

	ResultLog struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated result log"`
		FileName   string `long:"file" env:"FILE" default:"spamprobe-results.log" description:"location of result log"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"result-log" namespace:"result-log" env-namespace:"SPAMPROBE_RESULT_LOG"`

	Dbg bool `long:"dbg" env:"SPAMPROBE_DEBUG" description:"debug mode"`

	LearnCmd   LearnCommand   `command:"learn" description:"train on message file(s)"`
	UnlearnCmd UnlearnCommand `command:"unlearn" description:"reverse prior training for message(s)"`
	ProbeCmd   ProbeCommand   `command:"probe" description:"test message file(s) for spam"`
	DumpCmd    DumpCommand    `command:"dump" description:"show spammiest and hammiest words in the database"`
	CleanupCmd CleanupCommand `command:"cleanup" description:"prune barely used words from the database"`
}

var opts options

var revision = "local"

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Dbg)
		log.Printf("[DEBUG] spamprobe %s, options: %+v", revision, opts)
		return command.Execute(args)
	}
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// inputOpts is the shared file selection part of the commands, matching the
// original spamprobe cli: plain file arguments, a list of pathnames on stdin,
// directories of message files, or the message itself on stdin.
type inputOpts struct {
	List bool `long:"list" short:"l" description:"standard input is a list of pathnames"`
	Dir  bool `long:"dir" short:"d" description:"input file(s) are directories"`
}

// message is one input unit: a caller-visible id and the raw text
type message struct {
	id   string
	text string
}

// paths resolves the list of input file paths without reading them
func (o inputOpts) paths(args []string) ([]string, error) {
	if o.List && o.Dir {
		return nil, fmt.Errorf("--list and --dir are mutually exclusive")
	}

	if o.Dir {
		var res []string
		for _, dir := range args {
			files, err := fileutils.ListFiles(dir)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", dir, err)
			}
			res = append(res, files...)
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("no files found in %v", args)
		}
		return res, nil
	}

	if o.List {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read pathnames from stdin: %w", err)
		}
		var res []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				res = append(res, line)
			}
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("at least one pathname must be provided on stdin")
		}
		return res, nil
	}

	return args, nil
}

// load resolves input paths and reads their contents. With no paths at all the
// message itself is read from stdin, keyed by the hash of its content.
func (o inputOpts) load(args []string) ([]message, error) {
	paths, err := o.paths(args)
	if err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		return []message{{id: fmt.Sprintf("sha256:%x", sha256.Sum256(data)), text: string(data)}}, nil
	}

	res := make([]message, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // paths are user-supplied by design
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		res = append(res, message{id: path, text: string(data)})
	}
	return res, nil
}

// LearnCommand trains the filter on the given messages
type LearnCommand struct {
	Spam bool `long:"spam" short:"s" description:"mark message(s) as spam"`
	Ham  bool `long:"ham" short:"a" description:"mark message(s) as ham (non-spam)"`
	inputOpts
}

// Execute runs the learn command
func (c *LearnCommand) Execute(args []string) error {
	if c.Spam == c.Ham {
		return fmt.Errorf("exactly one of --spam or --ham is required")
	}
	class := spamprobe.ClassHam
	if c.Spam {
		class = spamprobe.ClassSpam
	}

	ctx := context.Background()
	words, msgs, teardown, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	inputs, err := c.load(args)
	if err != nil {
		return err
	}

	f := makeFilter()
	resLog := makeResultLog()
	defer resLog.Close()

	errs := new(multierror.Error)
	for _, m := range inputs {
		if err := f.Learn(ctx, words, msgs, m.id, m.text, class); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to learn %q: %w", m.id, err))
			continue
		}
		log.Printf("[INFO] learned %q as %s", m.id, class)
		resLog.write(resultEntry{Op: "learn", ID: m.id, Class: string(class)})
	}
	return errs.ErrorOrNil()
}

// UnlearnCommand reverses prior training. Arguments are message ids, i.e. the
// file paths used at learn time; contents are not needed.
type UnlearnCommand struct {
	inputOpts
}

// Execute runs the unlearn command
func (c *UnlearnCommand) Execute(args []string) error {
	ctx := context.Background()
	words, msgs, teardown, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	ids, err := c.paths(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("at least one message id must be provided")
	}

	f := makeFilter()
	errs := new(multierror.Error)
	for _, id := range ids {
		if err := f.Unlearn(ctx, words, msgs, id); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to unlearn %q: %w", id, err))
			continue
		}
		log.Printf("[INFO] unlearned %q", id)
	}
	return errs.ErrorOrNil()
}

// ProbeCommand scores the given messages and prints a verdict for each
type ProbeCommand struct {
	Threshold float64 `long:"threshold" short:"t" default:"0.95" description:"probability above which messages are considered spam"`
	inputOpts
}

// Execute runs the probe command
func (c *ProbeCommand) Execute(args []string) error {
	ctx := context.Background()
	words, msgs, teardown, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	inputs, err := c.load(args)
	if err != nil {
		return err
	}

	f := makeFilter()
	resLog := makeResultLog()
	defer resLog.Close()

	nSpam, nHam := 0, 0
	errs := new(multierror.Error)
	for _, m := range inputs {
		res, err := f.Probe(ctx, words, msgs, m.text)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to probe %q: %w", m.id, err))
			continue
		}
		isSpam := res.Score > c.Threshold
		if isSpam {
			nSpam++
		} else {
			nHam++
		}
		fmt.Printf("%.8f\t%s\t%s\n", res.Score, verdict(isSpam), m.id)
		log.Printf("[DEBUG] probe %q: %s", m.id, probeBrief(res))
		resLog.write(resultEntry{Op: "probe", ID: m.id, Score: res.Score, Spam: isSpam})
	}
	log.Printf("[INFO] probed %d messages, spam: %d, ham: %d", nSpam+nHam, nSpam, nHam)
	return errs.ErrorOrNil()
}

// DumpCommand prints the words with the strongest spam and ham evidence
type DumpCommand struct {
	Words int `long:"words" short:"w" default:"20" description:"number of words to show from each end"`
}

// Execute runs the dump command
func (c *DumpCommand) Execute(_ []string) error {
	ctx := context.Background()
	words, msgs, teardown, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	nHam, nSpam := 0, 0
	err = msgs.Iterate(ctx, func(_ string, rec spamprobe.TrainingRecord) error {
		if rec.Class == spamprobe.ClassSpam {
			nSpam++
		} else {
			nHam++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to count trained messages: %w", err)
	}

	type wordRatios struct {
		token     string
		spamRatio float64
		hamRatio  float64
	}
	var entries []wordRatios
	err = words.Iterate(ctx, func(token string, ws spamprobe.WordStats) error {
		e := wordRatios{token: token}
		if nSpam > 0 {
			e.spamRatio = float64(ws.Spam) / float64(nSpam)
		}
		if nHam > 0 {
			e.hamRatio = float64(ws.Ham) / float64(nHam)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to iterate words: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		di := entries[i].spamRatio - entries[i].hamRatio
		dj := entries[j].spamRatio - entries[j].hamRatio
		if di != dj {
			return di < dj
		}
		return entries[i].token < entries[j].token
	})

	n := c.Words
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] { // hammiest first
		fmt.Printf("%s\t%.8f\t%.8f\n", e.token, e.spamRatio, e.hamRatio)
	}
	fmt.Println()
	for _, e := range entries[len(entries)-n:] { // spammiest last
		fmt.Printf("%s\t%.8f\t%.8f\n", e.token, e.spamRatio, e.hamRatio)
	}
	return nil
}

// CleanupCommand prunes words too rare to carry evidence
type CleanupCommand struct {
	MinCount int `long:"min-count" short:"c" default:"2" description:"prune words with total count below this"`
}

// Execute runs the cleanup command
func (c *CleanupCommand) Execute(_ []string) error {
	ctx := context.Background()
	words, _, teardown, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	pruned, err := words.Cleanup(ctx, c.MinCount)
	if err != nil {
		return err
	}
	log.Printf("[INFO] pruned %d words", pruned)
	return nil
}

// openStores connects to the database and initializes both stores
func openStores(ctx context.Context) (*storage.Words, *storage.Messages, func(), error) {
	db, err := engine.New(ctx, opts.DB, opts.Profile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database %s: %w", opts.DB, err)
	}
	teardown := func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] failed to close database: %v", err)
		}
	}

	words, err := storage.NewWords(ctx, db)
	if err != nil {
		teardown()
		return nil, nil, nil, err
	}
	msgs, err := storage.NewMessages(ctx, db)
	if err != nil {
		teardown()
		return nil, nil, nil, err
	}
	return words, msgs, teardown, nil
}

// makeFilter builds the engine from the common options
func makeFilter() *spamprobe.Filter {
	return spamprobe.NewFilter(spamprobe.Config{
		MinTokenLen: opts.MinWordLen,
		TopWords:    opts.TopWords,
	})
}

// verdict formats the spam/ham decision for terminal output
func verdict(spam bool) string {
	if spam {
		return color.New(color.FgRed).Sprint("SPAM")
	}
	return color.New(color.FgGreen).Sprint("HAM")
}

// tokensBrief renders top contributing tokens for debug logging
func tokensBrief(tokens []spamprobe.TokenProb) string {
	elems := make([]string, 0, len(tokens))
	for _, tp := range tokens {
		elems = append(elems, fmt.Sprintf("%s:%.3f", tp.Token, tp.Prob))
	}
	return strings.Join(elems, " ")
}

// probeBrief renders probe diagnostics, trained totals included, for debug logging
func probeBrief(res spamprobe.ProbeResult) string {
	return fmt.Sprintf("trained ham %d, spam %d, top tokens: %s",
		res.HamTrained, res.SpamTrained, tokensBrief(res.Tokens))
}

// resultEntry is one json line in the rotated result log
type resultEntry struct {
	Time  string  `json:"time"`
	Op    string  `json:"op"`
	ID    string  `json:"id"`
	Class string  `json:"class,omitempty"`
	Score float64 `json:"score,omitempty"`
	Spam  bool    `json:"spam,omitempty"`
}

// resultLogger appends result entries to a rotated log file, no-op when disabled
type resultLogger struct {
	w io.WriteCloser
}

// makeResultLog builds a result logger from the common options
func makeResultLog() *resultLogger {
	if !opts.ResultLog.Enabled {
		return &resultLogger{}
	}
	return &resultLogger{w: &lumberjack.Logger{
		Filename:   opts.ResultLog.FileName,
		MaxSize:    opts.ResultLog.MaxSize,
		MaxBackups: opts.ResultLog.MaxBackups,
	}}
}

func (r *resultLogger) write(e resultEntry) {
	if r.w == nil {
		return
	}
	e.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[WARN] failed to marshal result entry: %v", err)
		return
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		log.Printf("[WARN] failed to write result entry: %v", err)
	}
}

// Close closes the underlying log file if enabled
func (r *resultLogger) Close() error {
	if r.w == nil {
		return nil
	}
	return r.w.Close()
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

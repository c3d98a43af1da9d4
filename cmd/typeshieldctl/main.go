// typeshieldctl is the control CLI for typeshieldd.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"typeshield/internal/behaviour"
	"typeshield/internal/capture"
	"typeshield/internal/config"
	"typeshield/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "score":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: typeshieldctl score <template.json> <attempt.json>")
			os.Exit(1)
		}
		cmdScore(flag.Arg(1), flag.Arg(2))
	case "attempts":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: typeshieldctl attempts <username>")
			os.Exit(1)
		}
		cmdAttempts(flag.Arg(1))
	case "simulate":
		profile := "steady"
		if flag.NArg() >= 2 {
			profile = flag.Arg(1)
		}
		cmdSimulate(profile)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `typeshieldctl - Control utility for typeshieldd

Usage: typeshieldctl [options] <command> [args]

Commands:
  score <template.json> <attempt.json>   Score an attempt against a template offline
  attempts <username>                    Show a user's authentication history
  simulate [profile]                     Generate a synthetic timing vector
                                         (profiles: steady, hunt-peck, rapid, coarse)
  help                                   Show this help message

Options:
  -config <path>  Path to config file (defaults apply when omitted)`)
}

func loadConfig() *config.Config {
	if *configPath == "" {
		cfg := config.Default()
		cfg.ApplyEnvOverrides()
		return cfg
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func readVector(path string) behaviour.TimingVector {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}
	var v behaviour.TimingVector
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", path, err)
		os.Exit(1)
	}
	return v
}

func cmdScore(templatePath, attemptPath string) {
	cfg := loadConfig()

	scorer, err := behaviour.NewScorer(cfg.Behaviour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building scorer: %v\n", err)
		os.Exit(1)
	}

	template := readVector(templatePath)
	attempt := readVector(attemptPath)

	result, err := scorer.Score(template, attempt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scoring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Similarity:  %.2f%%\n", result.Similarity)
	fmt.Printf("Threshold:   %.2f%%\n", cfg.Behaviour.Threshold)
	fmt.Printf("Passed:      %v\n", result.Passed)

	fmt.Println("\nComponent breakdown:")
	names := make([]string, 0, len(result.Components))
	for name := range result.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %.2f%%\n", name, result.Components[name])
	}

	if len(result.GuardFailures) > 0 {
		fmt.Println("\nGuard failures:")
		for _, g := range result.GuardFailures {
			fmt.Printf("  %s\n", g)
		}
	}
	if len(result.Reasons) > 0 {
		fmt.Println("\nReasons:")
		for _, r := range result.Reasons {
			fmt.Printf("  %s\n", r)
		}
	}

	if !result.Passed {
		os.Exit(2)
	}
}

func cmdAttempts(username string) {
	cfg := loadConfig()

	st, err := store.Open(cfg.Storage.Path, cfg.BusyTimeout())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByName(ctx, username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	totals, err := st.Totals(ctx, user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	recent, err := st.RecentAttempts(ctx, user.ID, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User:     %s (id %d)\n", user.Username, user.ID)
	fmt.Printf("Success:  %d\n", totals.Success)
	fmt.Printf("Failure:  %d\n", totals.Failure)
	fmt.Println("\nRecent attempts:")
	for _, a := range recent {
		score := "-"
		if a.Score != nil {
			score = fmt.Sprintf("%.2f%%", *a.Score)
		}
		category := a.Category
		if category == "" {
			category = "-"
		}
		fmt.Printf("  %s  %-8s %-8s %s\n",
			a.CreatedAt.Format(time.RFC3339), a.Outcome, score, category)
	}
}

// typistProfile parameterizes the synthetic key-event generator.
type typistProfile struct {
	name         string
	dwellMeanMs  float64
	dwellJitter  float64
	flightMeanMs float64
	flightJitter float64
	keys         int
	errorEvery   int // a correction roughly every N keys, 0 disables
}

var typistProfiles = map[string]typistProfile{
	"steady": {
		name:         "Steady Typist",
		dwellMeanMs:  100,
		dwellJitter:  15,
		flightMeanMs: 85,
		flightJitter: 20,
		keys:         12,
		errorEvery:   0,
	},
	"hunt-peck": {
		name:         "Hunt-and-Peck Typist",
		dwellMeanMs:  140,
		dwellJitter:  40,
		flightMeanMs: 320,
		flightJitter: 120,
		keys:         12,
		errorEvery:   5,
	},
	"rapid": {
		name:         "Rapid Typist",
		dwellMeanMs:  70,
		dwellJitter:  10,
		flightMeanMs: 45,
		flightJitter: 12,
		keys:         12,
		errorEvery:   8,
	},
}

// cmdSimulate drives a recorder with generated events and prints the
// resulting vector as JSON, suitable as input to `score`. The "coarse"
// profile exercises the value-change strategy with the configured dwell
// clamps; the rest use precise key events.
func cmdSimulate(profileName string) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	jitter := func(mean, spread float64) time.Duration {
		v := mean + rng.NormFloat64()*spread
		if v < 1 {
			v = 1
		}
		return time.Duration(v * float64(time.Millisecond))
	}

	if profileName == "coarse" {
		simulateCoarse(rng)
		return
	}

	profile, ok := typistProfiles[profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", profileName)
		os.Exit(1)
	}

	rec := capture.NewPrecise()
	now := time.Now()
	typed := 0
	for typed < profile.keys {
		rec.KeyDown(now)
		now = now.Add(jitter(profile.dwellMeanMs, profile.dwellJitter))
		rec.KeyUp(now)
		typed++

		if profile.errorEvery > 0 && typed%profile.errorEvery == 0 && typed < profile.keys {
			// Mistype, notice, correct.
			now = now.Add(jitter(profile.flightMeanMs, profile.flightJitter))
			rec.KeyDown(now)
			now = now.Add(jitter(profile.dwellMeanMs, profile.dwellJitter))
			rec.KeyUp(now)
			rec.Correction()
		}

		now = now.Add(jitter(profile.flightMeanMs, profile.flightJitter))
	}

	vec, err := rec.Vector()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building vector: %v\n", err)
		os.Exit(1)
	}

	printVector(profile.name, vec)
}

// simulateCoarse feeds value-length deltas through the coarse recorder,
// including one deletion, using the configured dwell clamps.
func simulateCoarse(rng *rand.Rand) {
	cfg := loadConfig()

	rec := capture.NewCoarse(cfg.Capture)
	now := time.Now()
	length := 0
	for i := 0; i < 12; i++ {
		length++
		rec.ValueChange(length, now)
		now = now.Add(time.Duration(120+rng.Intn(260)) * time.Millisecond)

		if i == 7 {
			length--
			rec.ValueChange(length, now)
			now = now.Add(time.Duration(120+rng.Intn(260)) * time.Millisecond)
		}
	}

	vec, err := rec.Vector()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building vector: %v\n", err)
		os.Exit(1)
	}
	printVector("Coarse Device", vec)
}

func printVector(name string, vec behaviour.TimingVector) {
	fmt.Fprintf(os.Stderr, "# %s: %d keys, %d corrections\n",
		name, vec.KeyCount(), vec.ErrorCount)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vec); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding vector: %v\n", err)
		os.Exit(1)
	}
}

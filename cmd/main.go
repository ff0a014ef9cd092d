package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/jmorland/gitscout/config"
	"github.com/jmorland/gitscout/internal/api"
	"github.com/jmorland/gitscout/internal/auth"
	"github.com/jmorland/gitscout/internal/discovery"
	"github.com/jmorland/gitscout/internal/models"
	"github.com/jmorland/gitscout/internal/reporef"
	"github.com/jmorland/gitscout/internal/store"
)

func main() {
	configPath := flag.String("config", "gitscout.json", "Path to configuration file")
	createConfig := flag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	repoArg := flag.String("repo", "", "Repository to search (URL or owner/name)")
	maxIssues := flag.Int("max-issues", 0, "Maximum issues to fetch per search (0 = config/default)")
	login := flag.Bool("login", false, "Sign in via the GitHub device flow")
	logout := flag.Bool("logout", false, "Sign out and clear the stored credential")
	whoami := flag.Bool("whoami", false, "Show the signed-in user")
	rateLimit := flag.Bool("rate-limit", false, "Show the current API rate-limit budget")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to create default configuration: %v", err)
		}
		log.Printf("Created default configuration at %s", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	sessionStore, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessionStore.Close()

	authenticator := auth.New(cfg.ClientID, sessionStore)

	limit := cfg.MaxIssues
	if *maxIssues > 0 {
		limit = *maxIssues
	}
	engine := discovery.New(sessionStore, limit)

	// Ctrl-C cancels in-flight searches and device-flow polling.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *login:
		runLogin(ctx, cfg, authenticator)
	case *logout:
		if err := authenticator.Logout(); err != nil {
			log.Fatalf("Failed to sign out: %v", err)
		}
		log.Printf("Signed out")
	case *whoami:
		user, err := authenticator.StoredUser()
		if err != nil {
			log.Fatalf("Failed to read stored user: %v", err)
		}
		if user == nil {
			fmt.Println("Not signed in")
			return
		}
		fmt.Printf("%s", user.Login)
		if user.Name != "" {
			fmt.Printf(" (%s)", user.Name)
		}
		fmt.Println()
	case *rateLimit:
		snapshot, err := engine.RateLimit(ctx)
		if err != nil {
			log.Fatalf("Failed to query rate limit: %v", err)
		}
		printRateLimit(snapshot)
	case *repoArg != "":
		runSearch(ctx, engine, *repoArg)
	default:
		fmt.Println("gitscout - find open, unassigned GitHub issues")
		fmt.Println("----------------------------------------------")
		fmt.Println("Use -repo <url|owner/name> to search a repository")
		fmt.Println("Use -login to sign in (enables linked-PR filtering)")
		fmt.Println("Use -logout to sign out")
		fmt.Println("Use -whoami to show the signed-in user")
		fmt.Println("Use -rate-limit to show the remaining API budget")
		fmt.Println("Use -init to create a default configuration file")
		fmt.Println("Use -config path/to/gitscout.json to specify a custom configuration file")
		fmt.Println()
		fmt.Printf("OAuth client ID can be provided via the %s environment variable\n", config.EnvClientID)
	}
}

func runLogin(ctx context.Context, cfg *config.Config, authenticator *auth.Authenticator) {
	if cfg.ClientID == "" {
		log.Fatalf("No OAuth client ID configured; set client_id in the config file or %s", config.EnvClientID)
	}

	session, err := authenticator.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start device flow: %v", err)
	}

	fmt.Printf("First, copy your one-time code: %s\n", session.UserCode)
	fmt.Printf("Then open %s and enter it\n", session.VerificationURI)
	fmt.Println("Waiting for authorization...")

	cred, err := authenticator.Poll(ctx, session)
	switch {
	case errors.Is(err, auth.ErrDeviceFlowDenied):
		log.Fatalf("Authorization was denied; run -login again to retry")
	case errors.Is(err, auth.ErrDeviceFlowExpired):
		log.Fatalf("The code expired before authorization; run -login again for a fresh code")
	case errors.Is(err, context.Canceled):
		log.Fatalf("Sign-in cancelled")
	case err != nil:
		log.Fatalf("Sign-in failed: %v", err)
	}

	log.Printf("Signed in as %s", cred.User.Login)
}

func runSearch(ctx context.Context, engine *discovery.Engine, repoArg string) {
	ref := reporef.Parse(repoArg)
	if ref == nil {
		log.Fatalf("Unrecognized repository reference %q (expected a github.com URL or owner/name)", repoArg)
	}

	start := time.Now()
	result, err := engine.FetchAvailableIssues(ctx, *ref)
	if err != nil {
		var rateErr *api.RateLimitError
		var partial *api.PartialResultError
		switch {
		case errors.As(err, &rateErr):
			wait := time.Until(rateErr.ResetTime).Round(time.Second)
			if wait > 0 {
				log.Fatalf("Rate limit exhausted; try again in %s (resets at %s)",
					wait, rateErr.ResetTime.Format(time.RFC3339))
			}
			log.Fatalf("Rate limit exhausted; try again shortly")
		case errors.As(err, &partial):
			log.Printf("Warning: a later page failed, showing the %d issues fetched before it: %v",
				len(partial.Issues), partial.Err)
			printIssues(partial.Issues)
			printRateLimit(partial.RateLimit)
			os.Exit(1)
		case errors.Is(err, api.ErrNotFound):
			log.Fatalf("Repository %s not found or not accessible", ref)
		case errors.Is(err, api.ErrUnauthorized):
			log.Fatalf("GitHub rejected the stored credential; run -logout then -login again")
		default:
			log.Fatalf("Search failed: %v", err)
		}
	}

	if len(result.Issues) == 0 {
		fmt.Printf("No open, unassigned issues in %s\n", ref)
	} else {
		printIssues(result.Issues)
	}
	if !result.FilteringApplied {
		fmt.Println("Note: not signed in, so issues with linked pull requests could not be filtered out")
	}
	if result.Truncated {
		fmt.Println("Note: result truncated at the configured issue cap")
	}
	printRateLimit(result.RateLimit)
	log.Printf("Search completed in %v", time.Since(start).Round(time.Millisecond))
}

func printIssues(issues []models.Issue) {
	for _, issue := range issues {
		fmt.Printf("#%-6d %s\n", issue.Number, issue.Title)
		fmt.Printf("        %s\n", issue.URL)
		fmt.Printf("        opened %s, %d comments",
			issue.CreatedAt.Format("2006-01-02"), issue.Comments.TotalCount)
		for _, label := range issue.Labels.Nodes {
			fmt.Printf(" [%s]", label.Name)
		}
		fmt.Println()
	}
	fmt.Printf("%d issue(s)\n", len(issues))
}

func printRateLimit(snapshot models.RateLimitSnapshot) {
	if snapshot.ResetAt.IsZero() {
		fmt.Printf("API budget: %d requests remaining\n", snapshot.Remaining)
		return
	}
	fmt.Printf("API budget: %d requests remaining, resets at %s\n",
		snapshot.Remaining, snapshot.ResetAt.Format(time.RFC3339))
}

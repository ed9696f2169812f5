// Command connector is the dataspace connector daemon and its one-shot
// client commands: contract negotiation, artifact retrieval, peer
// description lookup, and local access checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/datasphere-labs/connector/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "negotiate":
		return runNegotiate(args[2:], stdout, stderr)
	case "artifact":
		return runArtifact(args[2:], stdout, stderr)
	case "describe":
		return runDescribe(args[2:], stdout, stderr)
	case "query":
		return runQuery(args[2:], stdout, stderr)
	case "check":
		return runCheck(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Dataspace Connector")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  connector <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve        Run the connector daemon (default)")
	fmt.Fprintln(w, "  negotiate    Negotiate a contract with a peer (--template, --peer)")
	fmt.Fprintln(w, "  artifact     Retrieve an artifact under an agreement (--artifact, --agreement, --peer)")
	fmt.Fprintln(w, "  describe     Fetch a peer self-description (--peer [--element])")
	fmt.Fprintln(w, "  query        Run a catalog query against a peer (--peer, --query)")
	fmt.Fprintln(w, "  check        Evaluate a stored rule locally (--rule, --consumer, --profile)")
	fmt.Fprintln(w, "  help         Show this help")
	fmt.Fprintln(w, "")
}

// withSubsystems builds the wired stack for a one-shot command and
// tears it down afterwards.
func withSubsystems(stderr io.Writer, fn func(ctx context.Context, sys *subsystems) error) int {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sys, err := buildSubsystems(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer sys.Close(context.Background())

	if err := fn(ctx, sys); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return 0
}

func runNegotiate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("negotiate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	templatePath := cmd.String("template", "", "Path to the contract template JSON (REQUIRED)")
	peer := cmd.String("peer", "", "Peer endpoint URL (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *templatePath == "" || *peer == "" {
		fmt.Fprintln(stderr, "negotiate: --template and --peer are required")
		return 2
	}

	template, err := os.ReadFile(*templatePath)
	if err != nil {
		fmt.Fprintf(stderr, "read template: %v\n", err)
		return 1
	}

	return withSubsystems(stderr, func(ctx context.Context, sys *subsystems) error {
		endpoint, err := sys.peerEndpoint(*peer)
		if err != nil {
			return err
		}
		ag, err := sys.svc.Negotiate(ctx, template, endpoint)
		if err != nil {
			return err
		}
		return json.NewEncoder(stdout).Encode(ag)
	})
}

func runArtifact(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("artifact", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	artifactID := cmd.String("artifact", "", "Artifact id to retrieve (REQUIRED)")
	agreementID := cmd.String("agreement", "", "Confirmed agreement id (REQUIRED)")
	peer := cmd.String("peer", "", "Peer endpoint URL (REQUIRED)")
	out := cmd.String("out", "", "Write artifact bytes to this file instead of stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *artifactID == "" || *agreementID == "" || *peer == "" {
		fmt.Fprintln(stderr, "artifact: --artifact, --agreement and --peer are required")
		return 2
	}

	return withSubsystems(stderr, func(ctx context.Context, sys *subsystems) error {
		endpoint, err := sys.peerEndpoint(*peer)
		if err != nil {
			return err
		}
		ag, err := sys.stores.agreements.GetAgreement(ctx, *agreementID)
		if err != nil {
			return fmt.Errorf("load agreement: %w", err)
		}
		data, err := sys.svc.RequestArtifact(ctx, *artifactID, ag, endpoint)
		if err != nil {
			return err
		}
		if *out != "" {
			return os.WriteFile(*out, data, 0o600)
		}
		_, err = stdout.Write(data)
		return err
	})
}

func runDescribe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("describe", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	peer := cmd.String("peer", "", "Peer endpoint URL (REQUIRED)")
	element := cmd.String("element", "", "Offered element id (empty for the peer self-description)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *peer == "" {
		fmt.Fprintln(stderr, "describe: --peer is required")
		return 2
	}

	return withSubsystems(stderr, func(ctx context.Context, sys *subsystems) error {
		endpoint, err := sys.peerEndpoint(*peer)
		if err != nil {
			return err
		}
		payload, err := sys.svc.RequestDescription(ctx, *element, endpoint)
		if err != nil {
			return err
		}
		_, err = stdout.Write(payload)
		return err
	})
}

func runQuery(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("query", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	peer := cmd.String("peer", "", "Peer endpoint URL (REQUIRED)")
	query := cmd.String("query", "", "Query text (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *peer == "" || *query == "" {
		fmt.Fprintln(stderr, "query: --peer and --query are required")
		return 2
	}

	return withSubsystems(stderr, func(ctx context.Context, sys *subsystems) error {
		endpoint, err := sys.peerEndpoint(*peer)
		if err != nil {
			return err
		}
		payload, err := sys.svc.Query(ctx, []byte(*query), endpoint)
		if err != nil {
			return err
		}
		_, err = stdout.Write(payload)
		return err
	})
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	ruleID := cmd.String("rule", "", "Rule id to evaluate (REQUIRED)")
	dat := cmd.String("dat", "", "Requester DAT (required when DAT_VERIFY_KEY is set)")
	consumer := cmd.String("consumer", "", "Requesting connector id (ignored when a DAT is verified)")
	profile := cmd.String("profile", "", "Requester security profile (ignored when a DAT is verified)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *ruleID == "" {
		fmt.Fprintln(stderr, "check: --rule is required")
		return 2
	}

	return withSubsystems(stderr, func(ctx context.Context, sys *subsystems) error {
		reqCtx, err := sys.resolveRequester(*dat, *consumer, *profile)
		if err != nil {
			return err
		}
		decision, err := sys.svc.CheckAccess(ctx, *ruleID, reqCtx)
		if err != nil {
			return err
		}
		return json.NewEncoder(stdout).Encode(decision)
	})
}

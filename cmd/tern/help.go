// ABOUTME: Help display for the tern CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for polished usage output and envStatus for API key detection.
package main

import (
	"fmt"
	"io"
	"os"
)

const ternASCII = `
                 _
         _,...-' \'-.
      ,-'          \  '-.
   ,-'     __       \    '-.
  '-.._,-''  ''-..   \      '-.
                  '-. \        '-
                     \ \
                      ) )
    ~~ ~~~ ~^~ ~~ ~~~ ~~~^~ ~~ ~~^~~ ~
`

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, examples, environment status, and a docs link.
func printHelp(w io.Writer, ver string) {
	fmt.Fprint(w, ternASCII)
	fmt.Fprintf(w, "tern %s — terminal coding agent\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tern                        Start an interactive session")
	fmt.Fprintln(w, "  tern -p \"<prompt>\"          Answer one prompt and exit")
	fmt.Fprintln(w, "  tern -resume <session-id>   Continue a recorded session")
	fmt.Fprintln(w, "  tern -list-sessions         List recorded sessions")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -model <name>         Model to use (default: gemini-2.5-pro)")
	fmt.Fprintln(w, "  -auth <type>          gemini-api-key, vertex-ai, oauth-personal, openrouter, openai")
	fmt.Fprintln(w, "  -approval <mode>      Tool approval: default, auto_edit, yolo")
	fmt.Fprintln(w, "  -p <prompt>           Non-interactive: print the reply to stdout")
	fmt.Fprintln(w, "  -resume <id>          Resume the recorded session with this id")
	fmt.Fprintln(w, "  -list-sessions        List recorded sessions and exit")
	fmt.Fprintln(w, "  -debug                Verbose logging to stderr (with -p)")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Interactive commands:")
	fmt.Fprintln(w, "  /help /tools /mcp /memory /quit")
	fmt.Fprintln(w, "  !<command>            Run a shell command")
	fmt.Fprintln(w, "  @<path>               Include a file in your prompt")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  tern")
	fmt.Fprintln(w, "  tern -p \"explain cmd/tern/main.go\"")
	fmt.Fprintln(w, "  tern -model gemini-2.5-flash -approval auto_edit")
	fmt.Fprintln(w, "  tern -auth openai -p \"write a regex for ISO dates\"")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  GEMINI_API_KEY        %s\n", envStatus("GEMINI_API_KEY"))
	fmt.Fprintf(w, "  GOOGLE_API_KEY        %s\n", envStatus("GOOGLE_API_KEY"))
	fmt.Fprintf(w, "  OPENROUTER_API_KEY    %s\n", envStatus("OPENROUTER_API_KEY"))
	fmt.Fprintf(w, "  OPENAI_API_KEY        %s\n", envStatus("OPENAI_API_KEY"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Without any key, tern signs in with a Google account on first use.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Docs: https://github.com/2389-research/tern")
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}

// Package terminal implements the interactive command-line mode of DevPilot.
//
// A Terminal reads one line per turn, hands it to the agent and prints the
// final answer. Lines starting with a slash are commands:
//
//	/quit, /exit   end the session
//	/clear         forget the conversation so far
//
// In prompt mode every tool call needs a "y" before it runs; a refusal is
// reported back to the model as a failed tool result. Verbosity decides how
// much tool activity is shown: nothing, the status line, or status plus
// arguments and output.
//
// With WithTranscript the session is written to a JSON file after every turn
// and picked up again on the next start.
package terminal

// talkd is the voice conversation daemon. It serves the REST and
// websocket API the documentation client talks to, and runs the
// listen-answer-speak loop against whichever browser session attaches.
package main

import "github.com/teslashibe/go-talkmode/cmd/talkd/commands"

func main() {
	commands.Execute()
}

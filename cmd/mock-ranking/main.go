// Command mock-ranking serves a deterministic synthetic leaderboard in
// the remote ranking API's shape, for local tracker runs.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/okian/gridwatch/internal/mockranking"
)

// Default board dimensions.
const (
	defaultAddr     = ":9081"
	defaultCrews    = 120
	defaultPlayers  = 300
	defaultPageSize = 10
)

func main() {
	var (
		addr     = flag.String("addr", defaultAddr, "Listen address")
		crews    = flag.Int("crews", defaultCrews, "Number of ranked crews")
		players  = flag.Int("players", defaultPlayers, "Number of ranked players")
		pageSize = flag.Int("page-size", defaultPageSize, "Entries per ranking page")
		advance  = flag.Duration("advance", 0, "Advance the board one scoring round at this interval (0 = static)")
	)
	flag.Parse()

	board := mockranking.New(
		mockranking.WithCrewCount(*crews),
		mockranking.WithPlayerCount(*players),
		mockranking.WithPageSize(*pageSize),
	)

	if *advance > 0 {
		go func() {
			ticker := time.NewTicker(*advance)
			defer ticker.Stop()
			for range ticker.C {
				board.Advance()
			}
		}()
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           board.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		os.Stderr.WriteString("mock ranking server failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// Command flight-plot renders the telemetry and motor commands of a recorded
// flight session as PNG charts.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/qphone/internal/db"
)

var (
	dbPath    = flag.String("db", "flight.db", "Flight recorder database")
	sessionID = flag.String("session", "", "Session to plot (default: most recent)")
	outDir    = flag.String("out", "plots", "Output directory")
	list      = flag.Bool("list", false, "List sessions and exit")
)

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if *list {
		sessions, err := database.Sessions()
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		for _, s := range sessions {
			log.Printf("%s  %s  %s", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Label)
		}
		return
	}

	id := *sessionID
	if id == "" {
		s, err := database.LatestSession()
		if err != nil {
			log.Fatalf("no session to plot: %v", err)
		}
		id = s.ID
	}

	files, err := plotSession(database, id, *outDir)
	if err != nil {
		log.Fatalf("failed to plot session %s: %v", id, err)
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}

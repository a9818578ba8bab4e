package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/roster"
)

// finalizeAttendance backfills absent summaries for enrolled students who
// never joined; the API does this after sessions end, this command covers
// sessions that were missed.
func (cli *commandLine) finalizeAttendance(sessionID string) error {
	stdLogger := core.StdLogger{Std: log.New(os.Stdout, "ADMIN : ", log.LstdFlags)}
	rosterSvc := roster.NewService(cli.rosRepo, nil) // no fan-out here
	attSvc := attendance.NewService(cli.attRepo, rosterSvc, stdLogger)

	filled, err := attSvc.Finalize(context.Background(), sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("marked %d enrolled participant(s) absent for session %s\n", filled, sessionID)
	return nil
}

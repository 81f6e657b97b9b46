// Command qctl sends setpoints to a running autopilot over its HTTP API.
//
//	qctl [-addr URL] status
//	qctl arm | disarm
//	qctl calibrate [stop]
//	qctl move X Y Z SPEED SECONDS
//	qctl attitude THROTTLE HEIGHT ROLL PITCH YAW
//	qctl hold on|off
//	qctl watch
package main

import (
	"context"
	"errors"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/api"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/httputil"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "Autopilot API address")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d numbers, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// run executes one command and writes its result to w.
func run(ctx context.Context, c *api.Client, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	switch cmd, rest := args[0], args[1:]; cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(st)
	case "arm", "disarm":
		return c.Arm(ctx, cmd == "arm")
	case "calibrate":
		return c.Calibrate(ctx, len(rest) == 0 || rest[0] != "stop")
	case "move":
		v, err := parseFloats(rest, 5)
		if err != nil {
			return err
		}
		resp, err := c.Move(ctx, api.Move{X: v[0], Y: v[1], Z: v[2], Speed: v[3], Duration: v[4]})
		if err != nil {
			return err
		}
		return enc.Encode(resp)
	case "attitude":
		v, err := parseFloats(rest, 5)
		if err != nil {
			return err
		}
		if v[0] < 0 || v[0] > 255 {
			return fmt.Errorf("throttle must be 0..255, got %g", v[0])
		}
		return c.SetAttitude(ctx, aggregator.AttitudeCommand{
			Throttle: uint8(v[0]),
			Height:   v[1],
			Roll:     v[2],
			Pitch:    v[3],
			Yaw:      v[4],
		})
	case "hold":
		if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
			return fmt.Errorf("usage: hold on|off")
		}
		return c.AltitudeHold(ctx, rest[0] == "on")
	case "watch":
		out := json.NewEncoder(w)
		return c.WatchStates(ctx, func(tr flight.Transition) error {
			return out.Encode(tr)
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	// watch streams until interrupted
	if flag.Arg(0) != "watch" {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *timeout)
		defer stop()
	}

	c := api.NewClient(*addr, httputil.NewStandardClient(&http.Client{}))
	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

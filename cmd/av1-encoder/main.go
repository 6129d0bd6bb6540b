// Command av1-encoder reads I420 frames from shared memory, encodes them to
// AV1 and publishes them as image readings on an OD4 session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kataras/golog"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/av1enc"
	"github.com/thesyncim/av1enc/od4"
	"github.com/thesyncim/av1enc/relay"
)

var logger = golog.Child("[av1-encoder]")

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		cid        = flag.Uint("cid", 0, "OD4 session conference id")
		name       = flag.String("name", "", "name of the shared memory area to attach")
		width      = flag.Int("width", 0, "frame width")
		height     = flag.Int("height", 0, "frame height")
		gop        = flag.Int("gop", av1enc.DefaultGOP, "frames between forced keyframes")
		bitrate    = flag.Int("bitrate", av1enc.BitrateDefault, "target bitrate in bits per second, clamped to [50000, 5000000]")
		id         = flag.Uint("id", 0, "sender stamp of published image readings")
		verbose    = flag.Bool("verbose", false, "log per-frame diagnostics")
		cadence    = flag.String("cadence", "submitted", "keyframe cadence counter: submitted or published")
		source     = flag.String("source", "shm", "frame source: shm or memory")
		shmDir     = flag.String("shm-dir", "", "directory holding shared memory areas (default /dev/shm)")
		rtpAddr    = flag.String("rtp", "", "relay encoded frames as RTP/AV1 to host:port")
		webrtcAddr = flag.String("webrtc", "", "serve a WebRTC viewer endpoint on this address")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s --cid=<OD4 session> --name=<shared memory> --width=<W> --height=<H> [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := av1enc.DefaultConfig()
	if *configPath != "" {
		if err := av1enc.LoadConfig(*configPath, &cfg); err != nil {
			fatal(err)
		}
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cid":
			cfg.CID = uint16(min(*cid, 0xffff))
		case "name":
			cfg.Name = *name
		case "width":
			cfg.Width = *width
		case "height":
			cfg.Height = *height
		case "gop":
			cfg.GOP = *gop
		case "bitrate":
			cfg.Bitrate = *bitrate
		case "id":
			cfg.ID = uint32(*id)
		case "verbose":
			cfg.Verbose = *verbose
		case "cadence":
			cfg.Cadence = *cadence
		case "source":
			cfg.Source = *source
		case "shm-dir":
			cfg.ShmDir = *shmDir
		case "rtp":
			cfg.Relay.RTP = *rtpAddr
		case "webrtc":
			cfg.Relay.WebRTC = *webrtcAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		flag.Usage()
		fatal(err)
	}

	av1enc.SetVerbose(cfg.Verbose)
	relay.SetLogLevel(logLevel(cfg.Verbose))
	logger.SetLevel(logLevel(cfg.Verbose))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, cfg av1enc.Config) (err error) {
	codec, err := av1enc.NativeCodec()
	if err != nil {
		return err
	}
	encCfg, err := av1enc.Configure(codec, cfg.Params())
	if err != nil {
		return err
	}

	src, err := av1enc.OpenFrameSource(cfg.SourceKind(), cfg.SourceConfig())
	if err != nil {
		return fmt.Errorf("failed to attach to shared memory %q: %w", cfg.Name, err)
	}
	defer src.Close()
	logger.Infof("attached to %q (%dx%d, %d bytes)", cfg.Name, cfg.Width, cfg.Height, src.Size())

	session, err := codec.Open(encCfg)
	if err != nil {
		return err
	}
	logger.Infof("using %s at %d bps, gop %d, cadence %s",
		codec.Name(), encCfg.BitrateBps, cfg.GOP, cfg.CadencePolicy())

	bus, err := od4.NewSession(cfg.CID)
	if err != nil {
		session.Close()
		return err
	}

	var (
		relays  []av1enc.Bus
		closers = []func() error{bus.Close}
		server  *http.Server
	)
	defer func() {
		var result *multierror.Error
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			result = multierror.Append(result, server.Shutdown(shutdownCtx))
			cancel()
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				result = multierror.Append(result, cerr)
			}
		}
		if cerr := result.ErrorOrNil(); cerr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", cerr)
		}
	}()

	if cfg.Relay.RTP != "" {
		sink, rerr := relay.NewRTPSink(cfg.Relay.RTP, cfg.Relay.PayloadType, cfg.Relay.MTU)
		if rerr != nil {
			session.Close()
			return rerr
		}
		relays = append(relays, sink)
		closers = append(closers, sink.Close)
		logger.Infof("relaying RTP/AV1 to %s", cfg.Relay.RTP)
	}
	if cfg.Relay.WebRTC != "" {
		sink := relay.NewWebRTCSink(webrtc.Configuration{})
		relays = append(relays, sink)
		closers = append(closers, sink.Close)

		mux := http.NewServeMux()
		mux.Handle("/offer", sink)
		server = &http.Server{Addr: cfg.Relay.WebRTC, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if serr := server.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				logger.Errorf("webrtc endpoint: %v", serr)
			}
		}()
		logger.Infof("serving WebRTC offers on http://%s/offer", cfg.Relay.WebRTC)
	}

	var out av1enc.Bus = bus
	if len(relays) > 0 {
		out = &av1enc.MultiBus{Primary: bus, Relays: relays}
	}

	pipeline, err := av1enc.NewPipeline(av1enc.PipelineConfig{
		Source:    src,
		Session:   session,
		Publisher: av1enc.NewPublisher(out, cfg.ID),
		Width:     cfg.Width,
		Height:    cfg.Height,
		GOP:       cfg.GOP,
		Cadence:   cfg.CadencePolicy(),
	})
	if err != nil {
		session.Close()
		return err
	}

	err = pipeline.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := pipeline.Stats()
	logger.Infof("stopped: %d frames submitted, %d published, %d dropped, %d bytes",
		stats.FramesSubmitted, stats.FramesPublished, stats.FramesDropped, stats.BytesPublished)
	return err
}

func logLevel(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "info"
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[av1-encoder]: %v\n", err)
	os.Exit(1)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/audio"
	"github.com/norasector/cyclone/pkg/calls"
	"github.com/norasector/cyclone/pkg/dsp/spectrum"
	"github.com/norasector/cyclone/pkg/receiver"
	"github.com/norasector/cyclone/pkg/receiver/config"
	"github.com/norasector/cyclone/pkg/receiver/device"
	"github.com/norasector/cyclone/pkg/receiver/device/file"
	hackrfDevice "github.com/norasector/cyclone/pkg/receiver/device/hackrf"
	"github.com/norasector/cyclone/pkg/receiver/device/rtlsdr"
	"github.com/norasector/cyclone/pkg/server"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/samuel/go-hackrf/hackrf"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	fileByteReadSize = 262144
	fileReadDelay    = time.Microsecond * 16384
)

func main() {
	configFile := flag.StringP("config", "c", "cyclone.yaml", "YAML config file")
	logLevel := flag.StringP("log-level", "l", "info", "log level (debug|info|warning|error)")
	logFile := flag.StringP("log-file", "f", "", "log to file instead of stderr")
	listDevices := flag.BoolP("devices", "d", false, "enumerate attached SDR devices and exit")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.Logger = zerolog.New(f).With().Timestamp().Logger().Level(level)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	}

	if *listDevices {
		enumerateDevices()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading config file")
	}

	dev := openDevice(cfg)

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if cfg.InfluxDB.Host != "" {
		writeAPI = influxdb2.NewClient(cfg.InfluxDB.Host, "").WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	}

	sink, err := openSink(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create audio sink")
	}

	router := audio.NewRouter(sink,
		audio.WithHighWater(cfg.Audio.QueueDepth),
		audio.WithGain(cfg.Audio.Gain),
		audio.WithRouterLogger(log.Logger))

	tracker := calls.NewTracker(router,
		calls.WithLogger(log.Logger),
		calls.WithRecording(cfg.Audio.RecordCalls))
	for _, tg := range cfg.TalkGroups.Enabled {
		priority := 5
		if p, ok := cfg.TalkGroups.Priority[tg]; ok {
			priority = p
		}
		tracker.EnableTalkgroup(tg, priority)
	}
	for tg, label := range cfg.TalkGroups.Labels {
		tracker.SetLabel(tg, label)
	}

	recvOpts := []receiver.ReceiverOption{
		receiver.WithInfluxDB(writeAPI),
		receiver.WithAudioRouter(router),
		receiver.WithLogger(log.Logger),
	}
	if cfg.SpectrumServer.Port > 0 {
		recvOpts = append(recvOpts, receiver.WithSpectrumServer(spectrum.NewServer(cfg.SpectrumServer.Port)))
	}
	if cfg.WebSocket.Port > 0 {
		recvOpts = append(recvOpts, receiver.WithWebsocketHub(server.NewHub(cfg.WebSocket.Port, &log.Logger)))
	}

	rx, err := receiver.NewReceiver(dev, tracker,
		receiver.Options{
			CenterFreq:            cfg.CenterFreq,
			SampleRate:            cfg.SDR.SampleRate,
			VoiceOutputSampleRate: cfg.Audio.SampleRate,
			Systems:               cfg.Systems,
			RecordLocation:        cfg.RecordLocation,
			PlaybackLocation:      cfg.PlaybackLocation,
		}, recvOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create receiver")
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		return rx.Stop()
	})

	eg.Go(func() error {
		return router.Run(ctx)
	})

	eg.Go(func() error {
		return rx.Start(ctx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}

func parseLevel(s string) (zerolog.Level, error) {
	switch s {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func enumerateDevices() {
	infos := rtlsdr.Enumerate()
	if len(infos) == 0 {
		fmt.Println("no RTL-SDR devices found")
		return
	}
	for _, info := range infos {
		fmt.Printf("%d: %s (serial %s)\n", info.Index, info.Name, info.Serial)
	}
}

func openDevice(cfg *config.Config) device.Device {
	deviceType := cfg.SDR.Device
	if cfg.PlaybackLocation != "" {
		deviceType = "file"
	}

	switch deviceType {
	case "rtlsdr":
		log.Info().Str("device", "rtlsdr").Msg("initializing device...")
		opts := []rtlsdr.Option{rtlsdr.WithPPMCorrection(cfg.SDR.PPMCorrection)}
		if cfg.SDR.Gain.Auto {
			opts = append(opts, rtlsdr.WithAutoGain())
		} else {
			opts = append(opts, rtlsdr.WithGain(cfg.SDR.Gain.DB))
		}
		dev, err := rtlsdr.NewRTLSDRDevice(cfg.SDR.DeviceIndex, opts...)
		if err != nil {
			log.Fatal().Str("device", "rtlsdr").Err(err).Msg("failed to initialize RTLSDR")
		}
		return dev

	case "file":
		log.Info().Str("device", "file").Msg("initializing device...")
		dev, err := file.NewFileDevice(cfg.PlaybackLocation, fileByteReadSize, cfg.SDR.SampleRate, cfg.CenterFreq, fileReadDelay)
		if err != nil {
			log.Fatal().Str("device", "file").Err(err).Msg("failed to init file reader")
		}
		return dev

	default:
		log.Info().Str("device", "hackrf").Msg("initializing device...")
		if err := hackrf.Init(); err != nil {
			log.Fatal().Str("device", "hackrf").Err(err).Msg("failed to initialize hackRF")
		}

		if cfg.RecordLocation != "" {
			dev, err := hackrfDevice.NewRecordingHackRFDevice(cfg.RecordLocation)
			if err != nil {
				log.Fatal().Str("device", "hackrf").Err(err).Msg("failed to create hackRF recording device")
			}
			return dev
		}

		dev, err := hackrfDevice.NewHackRFDevice()
		if err != nil {
			log.Fatal().Str("device", "hackrf").Err(err).Msg("failed to create hackRF device")
		}
		return dev
	}
}

// openSink assembles the playback path: a PCM writer on the configured
// output device (a path, or "stdout"/"discard"), plus the Opus UDP
// stream when destinations are configured.
func openSink(cfg *config.Config) (audio.Sink, error) {
	var sinks []audio.Sink

	switch cfg.Audio.OutputDevice {
	case "", "discard", "default":
		sinks = append(sinks, audio.NewWriterSink(io.Discard))
	case "stdout":
		sinks = append(sinks, audio.NewWriterSink(os.Stdout))
	default:
		f, err := os.OpenFile(cfg.Audio.OutputDevice, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, audio.NewWriterSink(f))
	}

	if len(cfg.OutputDestinations) > 0 {
		dests := make([]audio.Destination, 0, len(cfg.OutputDestinations))
		for _, d := range cfg.OutputDestinations {
			dests = append(dests, audio.Destination{Host: d.Host, Port: d.Port})
		}
		stream, err := audio.NewOpusStreamSink(cfg.Audio.SampleRate, dests, &log.Logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, stream)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return audio.NewMultiSink(sinks...), nil
}

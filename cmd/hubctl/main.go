// Command hubctl is a diagnostic CLI over the recovery package: it
// exposes validate-integrity, force-reset, release-zombie-writer,
// release-zombie-readers, peek-slot (through open-for-diagnostic), and
// a stats command,
// the tooling counterpart to spec §4.5.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pylabhub/hub/recovery"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hubctl: "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: hubctl <command> --channel NAME [flags]")
	}
	cmd, rest := args[0], args[1:]

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	channel := fs.String("channel", "", "channel name (required)")
	token := fs.String("admin-token", "", "hex-encoded 32-byte admin token (peek-slot only)")
	slot := fs.Uint64("slot", 0, "slot id (peek-slot only)")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *channel == "" {
		return fmt.Errorf("--channel is required")
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	switch cmd {
	case "validate-integrity":
		report, err := recovery.ValidateIntegrity(*channel)
		if err != nil {
			return err
		}
		log.Info("validate-integrity",
			zap.String("channel", *channel),
			zap.Int("slots_scanned", report.SlotsScanned),
			zap.Int("checksum_mismatches", report.ChecksumMismatches),
			zap.Int("stale_reader_slots", report.StaleReaderSlots),
			zap.Bool("flex_zone_mismatch", report.FlexZoneMismatch),
			zap.Uint64s("stale_writer_pids", report.StaleWriterPIDs))
		return nil

	case "force-reset":
		if err := recovery.ForceReset(*channel, recovery.WithLogger(log)); err != nil {
			return err
		}
		log.Info("force-reset complete", zap.String("channel", *channel))
		return nil

	case "release-zombie-writer":
		n, err := recovery.ReleaseZombieWriter(*channel, recovery.WithLogger(log))
		if err != nil {
			return err
		}
		log.Info("release-zombie-writer complete", zap.String("channel", *channel), zap.Int("released", n))
		return nil

	case "release-zombie-readers":
		n, err := recovery.ReleaseZombieReaders(*channel, recovery.WithLogger(log))
		if err != nil {
			return err
		}
		log.Info("release-zombie-readers complete", zap.String("channel", *channel), zap.Uint32("reclaimed", n))
		return nil

	case "stats":
		s, err := recovery.Stats(*channel)
		if err != nil {
			return err
		}
		log.Info("stats",
			zap.String("channel", *channel),
			zap.Uint64("write_count", s.WriteCount),
			zap.Uint64("overrun_count", s.OverrunCount),
			zap.Uint64("acquire_failure_count", s.AcquireFailureCount),
			zap.Uint64("integrity_failure_count", s.IntegrityFailureCount),
			zap.Uint64("write_index", s.WriteIndex),
			zap.Uint64("generation", s.Generation))
		return nil

	case "peek-slot":
		var adminToken [32]byte
		if *token != "" {
			raw, err := hex.DecodeString(*token)
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("--admin-token must be 64 hex characters")
			}
			copy(adminToken[:], raw)
		}
		d, err := recovery.OpenForDiagnostic(*channel, adminToken)
		if err != nil {
			return err
		}
		defer d.Close()
		payload, ok, committed := d.PeekSlot(*slot)
		log.Info("peek-slot",
			zap.String("channel", *channel),
			zap.Uint64("slot", *slot),
			zap.Bool("committed", committed),
			zap.Bool("checksum_ok", ok),
			zap.Int("payload_len", len(payload)))
		return nil

	default:
		return fmt.Errorf("unknown command %q (want validate-integrity, force-reset, release-zombie-writer, release-zombie-readers, peek-slot, stats)", cmd)
	}
}

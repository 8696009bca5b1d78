package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/log"
)

// BuildFilter converts raw flag values into a log.Filter.
func BuildFilter(flags FilterFlags) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: flags.ConnID,
		Protocol:     flags.Protocol,
	}

	if flags.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, flags.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start: %w", err)
		}
		filter.TimeStart = &t
	}
	if flags.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, flags.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end: %w", err)
		}
		filter.TimeEnd = &t
	}

	if flags.Layer != "" {
		l, err := parseLayer(flags.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if flags.Direction != "" {
		d, err := parseDirection(flags.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if flags.Category != "" {
		c, err := parseCategory(flags.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}

	return filter, nil
}

// RunFilter writes the matching events of one capture into a new one.
func RunFilter(path string, flags FilterFlags, output string) error {
	filter, err := BuildFilter(flags)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output capture: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}

	fmt.Printf("Filtered %d events to %s\n", count, output)
	return nil
}

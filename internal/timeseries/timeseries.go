// Package timeseries records poll cycle results as time series points in
// InfluxDB.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementUnit    = "unit_emissions"
	MeasurementNetwork = "network_emissions"
)

// Sink receives the outcome of every poll cycle.
type Sink interface {
	WritePoll(ctx context.Context, rec PollRecord) error
	Close() error
}

// UnitRecord is the state of one polled unit after a cycle.
type UnitRecord struct {
	UnitID              string
	BurnRate            float64
	CumulativeEmissions float64
}

// PollRecord is one completed poll cycle.
type PollRecord struct {
	Time                time.Time
	NetworkBurnRate     float64
	NetworkEmissionRate float64
	Units               []UnitRecord
}

// Points converts rec into one network point and one point per unit.
func Points(rec PollRecord) []*write.Point {
	points := make([]*write.Point, 0, len(rec.Units)+1)
	points = append(points, influxdb2.NewPoint(
		MeasurementNetwork,
		nil,
		map[string]any{
			"burn_rate":         rec.NetworkBurnRate,
			"daily_emission_kg": rec.NetworkEmissionRate,
		},
		rec.Time,
	))
	for _, u := range rec.Units {
		points = append(points, influxdb2.NewPoint(
			MeasurementUnit,
			map[string]string{"unit": u.UnitID},
			map[string]any{
				"burn_rate":                u.BurnRate,
				"cumulative_emissions_kg": u.CumulativeEmissions,
			},
			rec.Time,
		))
	}
	return points
}

// Config configures an InfluxSink.
type Config struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxSink writes poll records with the blocking write API, so a failed
// write is reported to the poll cycle that produced it.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSink creates an InfluxSink. It does not contact the server.
func NewInfluxSink(cfg Config) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// WritePoll implements Sink.
func (s *InfluxSink) WritePoll(ctx context.Context, rec PollRecord) error {
	if err := s.writer.WritePoint(ctx, Points(rec)...); err != nil {
		return fmt.Errorf("write poll record: %w", err)
	}
	return nil
}

// Close releases the client's resources.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

// Package solverport implements SolverPort: the framed binary subprocess
// protocol to the opaque LP solver (§4.12, §6). Frames are a 4-byte
// big-endian length prefix followed by a payload; every integer and float
// inside a payload is little-endian, matching the wire format spec.md §6
// defines ("all floats little-endian 64-bit IEEE-754; all integers
// little-endian") — only the outer frame length stays big-endian, per
// §4.12's "length-prefixed (4-byte big-endian) frames".
//
// Grounded on the teacher's pkg/theRebelliousNerd-codenerd
// internal/mcp/transport_stdio.go subprocess transport (exec.Command,
// stdin/stdout pipes, pending-request map keyed by request id, a reader
// goroutine dispatching responses) — generalized from line-oriented JSON-RPC
// to this length-prefixed binary framing, since the solver is a different
// subprocess with its own wire contract.
package solverport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Command is the solver request opcode.
type Command byte

const (
	CmdSolve      Command = 1
	CmdMonteCarlo Command = 2
)

// Status is the solver response status.
type Status byte

const (
	StatusOK         Status = 0
	StatusInfeasible Status = 1
	StatusError      Status = 2
)

// BoundInput is one solver variable's resolved range, the wire form of
// pkg/bridge.Bound. Its position in Request.Bounds is also its position in
// the model descriptor and in shadow_prices on the way back, so callers
// must not reorder Bounds between encoding and decoding.
type BoundInput struct {
	Key string
	Min float64
	Max float64
}

// PenaltyInput is one penalty schedule row, the wire form of
// contracts.PenaltyScheduleEntry. Its count is the model descriptor's
// route_count, and its position is the route index for route_tons,
// route_profits, margins, and transits on the way back.
type PenaltyInput struct {
	Counterparty string
	PenaltyType  byte
	RatePerTon   float64
	OpenQty      float64
	MaxExposure  float64
}

// Request is one solve or monte-carlo request.
type Request struct {
	RunID        string
	ProductGroup string
	Command      Command
	Bounds       []BoundInput
	Penalties    []PenaltyInput
	Trials       uint32 // n_scenarios, only meaningful for CmdMonteCarlo
}

// SolveResult is the optimal-solve payload: five scalars plus four
// per-route series and a per-constraint shadow price series (§4.12).
type SolveResult struct {
	Profit   float64
	Tons     float64
	Vessels  float64
	Cost     float64
	EffBarge float64

	RouteTons    []float64
	RouteProfits []float64
	Margins      []float64
	Transits     []float64

	ShadowPrices []float64
}

// MonteCarloResult is the monte_carlo payload: scenario counts, an
// objective distribution summary, and per-variable Pearson sensitivities.
type MonteCarloResult struct {
	NScenarios  uint32
	NFeasible   uint32
	NInfeasible uint32

	Mean   float64
	StdDev float64
	P5     float64
	P25    float64
	P50    float64
	P75    float64
	P95    float64
	Min    float64
	Max    float64

	Sensitivities []float64
}

// Response is the solver's reply to one Request. Exactly one of Solve or
// MonteCarlo is populated on a StatusOK response, matching the request's
// Command.
type Response struct {
	Status     Status
	Solve      *SolveResult
	MonteCarlo *MonteCarloResult
	Objective  float64 // convenience alias: SolveResult.Profit when Solve != nil
	ErrorMsg   string
}

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func putString(buf []byte, s string) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	buf = append(buf, l[:]...)
	buf = append(buf, s...)
	return buf
}

func putFloat64LE(buf []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// encodeRequest serializes a Request into its wire payload:
// [cmd byte][run_id str][product_group str]
// model descriptor: [var count u32le]{name str}[route count u32le][constraint count u32le]
// variables block: [n_scenarios u32le, only for CmdMonteCarlo]{min f64le, max f64le} per variable
// penalty rows (domain trailer): [penalty count u32le]{counterparty str, type byte, rate f64le, openqty f64le, maxexposure f64le}
func encodeRequest(req Request) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, byte(req.Command))
	buf = putString(buf, req.RunID)
	buf = putString(buf, req.ProductGroup)

	buf = putUint32(buf, uint32(len(req.Bounds)))
	for _, b := range req.Bounds {
		buf = putString(buf, b.Key)
	}
	buf = putUint32(buf, uint32(len(req.Penalties))) // route_count
	buf = putUint32(buf, uint32(len(req.Bounds)))    // constraint_count

	if req.Command == CmdMonteCarlo {
		buf = putUint32(buf, req.Trials)
	}
	for _, b := range req.Bounds {
		buf = putFloat64LE(buf, b.Min)
		buf = putFloat64LE(buf, b.Max)
	}

	buf = putUint32(buf, uint32(len(req.Penalties)))
	for _, p := range req.Penalties {
		buf = putString(buf, p.Counterparty)
		buf = append(buf, p.PenaltyType)
		buf = putFloat64LE(buf, p.RatePerTon)
		buf = putFloat64LE(buf, p.OpenQty)
		buf = putFloat64LE(buf, p.MaxExposure)
	}

	return buf
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) getString() (string, error) {
	if r.pos+4 > len(r.buf) {
		return "", fmt.Errorf("truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return "", fmt.Errorf("truncated string body")
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *byteReader) getFloat64LE() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("truncated float")
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *byteReader) getFloat64Slice(n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.getFloat64LE()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *byteReader) getUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated uint32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) getByte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("truncated byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// decodeResponse parses a solver response payload. routeCount and
// constraintCount come from the originating request (len(Penalties) and
// len(Bounds) respectively) since the response does not repeat the model
// descriptor: [status byte]
// if OK and cmd=solve: [profit,tons,vessels,cost,eff_barge f64le]{route_tons}{route_profits}{margins}{transits}{shadow_prices}
// if OK and cmd=monte_carlo: [n_scenarios,n_feasible,n_infeasible u32le][mean..max + reserved f64le]{sensitivities}
// if Error: [msg str]
func decodeResponse(payload []byte, cmd Command, routeCount, constraintCount int) (Response, error) {
	r := &byteReader{buf: payload}
	statusByte, err := r.getByte()
	if err != nil {
		return Response{}, err
	}
	resp := Response{Status: Status(statusByte)}

	switch resp.Status {
	case StatusOK:
		switch cmd {
		case CmdMonteCarlo:
			mc, err := decodeMonteCarlo(r, constraintCount)
			if err != nil {
				return Response{}, err
			}
			resp.MonteCarlo = mc
		default:
			sr, err := decodeSolve(r, routeCount, constraintCount)
			if err != nil {
				return Response{}, err
			}
			resp.Solve = sr
			resp.Objective = sr.Profit
		}
	case StatusInfeasible:
		// no further payload
	case StatusError:
		msg, err := r.getString()
		if err != nil {
			return Response{}, err
		}
		resp.ErrorMsg = msg
	default:
		return Response{}, fmt.Errorf("unknown solver response status %d", statusByte)
	}

	return resp, nil
}

func decodeSolve(r *byteReader, routeCount, constraintCount int) (*SolveResult, error) {
	scalars, err := r.getFloat64Slice(5)
	if err != nil {
		return nil, err
	}
	sr := &SolveResult{Profit: scalars[0], Tons: scalars[1], Vessels: scalars[2], Cost: scalars[3], EffBarge: scalars[4]}

	if sr.RouteTons, err = r.getFloat64Slice(routeCount); err != nil {
		return nil, err
	}
	if sr.RouteProfits, err = r.getFloat64Slice(routeCount); err != nil {
		return nil, err
	}
	if sr.Margins, err = r.getFloat64Slice(routeCount); err != nil {
		return nil, err
	}
	if sr.Transits, err = r.getFloat64Slice(routeCount); err != nil {
		return nil, err
	}
	if sr.ShadowPrices, err = r.getFloat64Slice(constraintCount); err != nil {
		return nil, err
	}
	return sr, nil
}

func decodeMonteCarlo(r *byteReader, constraintCount int) (*MonteCarloResult, error) {
	nScenarios, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	nFeasible, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	nInfeasible, err := r.getUint32()
	if err != nil {
		return nil, err
	}

	stats, err := r.getFloat64Slice(10) // mean, stddev, p5, p25, p50, p75, p95, min, max, reserved
	if err != nil {
		return nil, err
	}

	sens, err := r.getFloat64Slice(constraintCount)
	if err != nil {
		return nil, err
	}

	return &MonteCarloResult{
		NScenarios: nScenarios, NFeasible: nFeasible, NInfeasible: nInfeasible,
		Mean: stats[0], StdDev: stats[1], P5: stats[2], P25: stats[3], P50: stats[4],
		P75: stats[5], P95: stats[6], Min: stats[7], Max: stats[8],
		Sensitivities: sens,
	}, nil
}

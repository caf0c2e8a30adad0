package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/asticode/go-astibits"
	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"golang.org/x/sync/errgroup"
)

// Flags
var (
	ctx, cancel     = context.WithCancel(context.Background())
	concurrency     = flag.Int("c", 4, "the maximum number of inputs probed concurrently")
	cpuProfiling    = flag.Bool("cp", false, "if yes, cpu profiling is enabled")
	format          = flag.String("f", "", "the format")
	inputPaths      = astikit.NewFlagStrings()
	memoryProfiling = flag.Bool("mp", false, "if yes, memory profiling is enabled")
	packetSize      = flag.Int("s", 0, "the packet size (188, 192 or 204), auto detected if 0")
	pids            = astikit.NewFlagStrings()
	verbose         = flag.Bool("v", false, "if yes, debug logs are enabled")
)

var l = logrus.New()

func main() {
	// Init
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s <packets|pes|tables>:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Var(inputPaths, "i", "the input paths, either files or udp://host:port multicast addresses")
	flag.Var(pids, "p", "the PIDs whitelist")
	cmd := astikit.FlagCmd()
	flag.Parse()

	// Logger
	l.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	if *verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	astibits.SetLogger(l)

	// Handle signals
	handleSignals()

	// Start profiling
	if *cpuProfiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if *memoryProfiling {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	// Validate input
	if len(*inputPaths.Slice) == 0 {
		l.Fatal("use -i to indicate an input path")
	}

	// Build probe func
	var fn func(pr *astibits.PacketReader, rp *Report) error
	switch cmd {
	case "packets":
		fn = packets
	case "pes":
		fn = pes
	case "", "tables":
		fn = tables
	default:
		l.Fatalf("unknown command %s", cmd)
	}

	// Probe inputs
	rs := make([]*Report, len(*inputPaths.Slice))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for idx, p := range *inputPaths.Slice {
		idx, p := idx, p
		g.Go(func() (err error) {
			if rs[idx], err = probe(gctx, p, fn); err != nil {
				err = errors.Wrapf(err, "astibits: probing %s failed", p)
				return
			}
			return
		})
	}
	if err := g.Wait(); err != nil {
		l.Fatal(err)
	}

	// Print
	switch *format {
	case "json":
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "  ")
		if err := e.Encode(rs); err != nil {
			l.Fatal(errors.Wrap(err, "astibits: json encoding to stdout failed"))
		}
	default:
		for _, r := range rs {
			l.Infof("%s", r)
		}
	}
}

func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch)
	go func() {
		for s := range ch {
			if s != syscall.SIGURG {
				l.Debugf("Received signal %s", s)
			}
			switch s {
			case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
				cancel()
				return
			}
		}
	}()
}

func buildReader(ctx context.Context, path string) (r io.ReadCloser, err error) {
	// Parse input
	var u *url.URL
	if u, err = url.Parse(path); err != nil {
		err = errors.Wrap(err, "astibits: parsing input path failed")
		return
	}

	// Switch on scheme
	switch u.Scheme {
	case "udp":
		// Resolve addr
		var addr *net.UDPAddr
		if addr, err = net.ResolveUDPAddr("udp", u.Host); err != nil {
			err = errors.Wrapf(err, "astibits: resolving udp addr %s failed", u.Host)
			return
		}

		// Listen to multicast UDP
		var c *net.UDPConn
		if c, err = net.ListenMulticastUDP("udp", nil, addr); err != nil {
			err = errors.Wrapf(err, "astibits: listening on multicast udp addr %s failed", u.Host)
			return
		}
		c.SetReadBuffer(4096)

		// Unblock reads once the context is done
		go func() {
			<-ctx.Done()
			c.Close()
		}()

		// Datagrams hold several packets
		r = &bufferedConn{Reader: bufio.NewReaderSize(c, 1<<16), c: c}
	default:
		// Open file
		var f *os.File
		if f, err = os.Open(path); err != nil {
			err = errors.Wrapf(err, "astibits: opening %s failed", path)
			return
		}
		r = f
	}
	return
}

type bufferedConn struct {
	*bufio.Reader
	c   *net.UDPConn
	one sync.Once
}

func (c *bufferedConn) Close() (err error) {
	c.one.Do(func() { err = c.c.Close() })
	return
}

func probe(ctx context.Context, path string, fn func(pr *astibits.PacketReader, rp *Report) error) (rp *Report, err error) {
	// Build the reader
	var r io.ReadCloser
	if r, err = buildReader(ctx, path); err != nil {
		err = errors.Wrap(err, "astibits: building reader failed")
		return
	}
	defer r.Close()

	// Probe
	return probeReader(ctx, path, r, fn)
}

func probeReader(ctx context.Context, input string, r io.Reader, fn func(pr *astibits.PacketReader, rp *Report) error) (rp *Report, err error) {
	// Create the packet reader
	e := l.WithField("prefix", input)
	opts := []astibits.PacketReaderOpt{astibits.PacketReaderOptLogger(e)}
	if *packetSize > 0 {
		opts = append(opts, astibits.PacketReaderOptPacketSize(*packetSize))
	}
	pr := astibits.NewPacketReader(ctx, r, opts...)

	// Probe
	rp = newReport(input)
	e.Debug("Fetching packets...")
	if err = fn(pr, rp); err != nil && !isEndOfInput(ctx, err) {
		return
	}
	err = nil
	rp.PacketSize = pr.PacketSize()
	return
}

// isEndOfInput checks whether the error only means there's nothing left to read
// Once the context is done, the connection is closed and reads fail with net.ErrClosed
func isEndOfInput(ctx context.Context, err error) bool {
	return errors.Is(err, astibits.ErrNoMorePackets) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		ctx.Err() != nil
}

// nextPacket returns the next whitelisted packet, counting decoding failures instead of failing
func nextPacket(pr *astibits.PacketReader, rp *Report) (p *astibits.Packet, err error) {
	for {
		// Get next packet
		if p, err = pr.NextPacket(); err != nil {
			// Reading failed or the packet size is unknown, in which case the reader is not aligned anymore
			if errors.Is(err, astibits.ErrNoMorePackets) || errors.Is(err, context.Canceled) || astibits.KindOf(err) == astibits.ErrorKindOther || pr.PacketSize() == 0 {
				return
			}
			rp.fail(err)
			continue
		}
		rp.Packets++

		// Check whitelist
		if len(pids.Map) > 0 {
			if _, ok := pids.Map[fmt.Sprintf("%d", p.Header.PID)]; !ok {
				continue
			}
		}
		rp.PIDs[p.Header.PID]++
		return
	}
}

func packets(pr *astibits.PacketReader, rp *Report) (err error) {
	for {
		// Get next packet
		var p *astibits.Packet
		if p, err = nextPacket(pr, rp); err != nil {
			return
		}

		// Log packet
		l.Debugf("PKT: %d", p.Header.PID)
		l.Debugf("  Continuity Counter: %v", p.Header.ContinuityCounter)
		l.Debugf("  Payload Unit Start Indicator: %v", p.Header.PayloadUnitStartIndicator)
		l.Debugf("  Has Payload: %v", p.Header.HasPayload)
		l.Debugf("  Has Adaptation Field: %v", p.Header.HasAdaptationField)
		l.Debugf("  Transport Error Indicator: %v", p.Header.TransportErrorIndicator)
		l.Debugf("  Transport Priority: %v", p.Header.TransportPriority)
		l.Debugf("  Transport Scrambling Control: %v", p.Header.TransportScramblingControl)
		if p.Header.HasAdaptationField {
			l.Debugf("  Adaptation Field: %+v", p.AdaptationField)
			if p.AdaptationField.HasPCR {
				rp.LastPCR[p.Header.PID] = p.AdaptationField.PCR.Duration().String()
			}
		}
	}
}

func pes(pr *astibits.PacketReader, rp *Report) (err error) {
	for {
		// Get next packet
		var p *astibits.Packet
		if p, err = nextPacket(pr, rp); err != nil {
			return
		}

		// Payload must start a PES
		if !p.Header.PayloadUnitStartIndicator || !astibits.IsPESPayload(p.Payload) {
			continue
		}

		// Decode
		var d astibits.PESData
		if err = d.Decode(p.Payload); err != nil {
			rp.fail(err)
			continue
		}

		// Log
		l.Debugf("PES: %d", p.Header.PID)
		l.Debugf("  Stream ID: %v", d.Header.StreamID)
		l.Debugf("  Packet Length: %v", d.Header.PacketLength)
		l.Debugf("  Optional Header: %+v", d.Header.OptionalHeader)

		// Update report
		s, ok := rp.PES[p.Header.PID]
		if !ok {
			s = &PESStream{StreamID: d.Header.StreamID}
			rp.PES[p.Header.PID] = s
		}
		s.Count++
		if d.Header.HasOptionalHeader && d.Header.OptionalHeader.PTSDTSIndicator != astibits.PTSDTSIndicatorNoPTSOrDTS {
			s.LastPTS = d.Header.OptionalHeader.PTS.Duration().String()
		}
	}
}

func tables(pr *astibits.PacketReader, rp *Report) (err error) {
	pm := astibits.NewProgramMap()
	pmtsToProcess := make(map[uint16]bool)
	for {
		// Get next packet
		var p *astibits.Packet
		if p, err = nextPacket(pr, rp); err != nil {
			return
		}

		// Decode data
		var d *astibits.Data
		if d, err = astibits.DecodeData(p, pm); err != nil {
			rp.fail(err)
			continue
		} else if d == nil {
			continue
		}

		// Check data
		switch {
		case d.PAT != nil:
			for _, pg := range d.PAT.Programs() {
				// Program number 0 is reserved to NIT
				if pg.IsNetwork() {
					continue
				}

				// Program has not already been added
				if _, ok := rp.Programs[pg.ProgramNumber]; !ok {
					pmtsToProcess[pg.ProgramNumber] = true
					rp.Programs[pg.ProgramNumber] = newProgram(pg.ProgramNumber, pg.ProgramMapID)
				}
			}
		case d.PMT != nil:
			// Program has already been processed
			if _, ok := pmtsToProcess[d.PMT.ProgramNumber]; !ok {
				continue
			}

			// Update program
			pg := rp.Programs[d.PMT.ProgramNumber]
			pg.PCRPID = d.PMT.PCRPID
			for _, dsc := range d.PMT.ProgramDescriptors.Descriptors() {
				pg.Descriptors = append(pg.Descriptors, descriptorToString(&dsc))
			}

			// Add elementary streams
			for _, es := range d.PMT.ElementaryStreams() {
				s := newStream(es.ElementaryPID, es.StreamType)
				for _, dsc := range es.ElementaryStreamDescriptors.Descriptors() {
					s.Descriptors = append(s.Descriptors, descriptorToString(&dsc))
				}
				pg.Streams = append(pg.Streams, s)
			}

			// Update list of programs to process
			delete(pmtsToProcess, d.PMT.ProgramNumber)

			// All PMTs have been processed
			if len(pmtsToProcess) == 0 {
				return
			}
		}
	}
}

// Report represents the result of probing an input
type Report struct {
	Failures   map[string]int        `json:"failures,omitempty"`
	Input      string                `json:"input"`
	LastPCR    map[uint16]string     `json:"last_pcr,omitempty"`
	PacketSize int                   `json:"packet_size"`
	Packets    int                   `json:"packets"`
	PES        map[uint16]*PESStream `json:"pes,omitempty"`
	PIDs       map[uint16]int        `json:"pids,omitempty"`
	Programs   map[uint16]*Program   `json:"programs,omitempty"`
}

func newReport(input string) *Report {
	return &Report{
		Failures: make(map[string]int),
		Input:    input,
		LastPCR:  make(map[uint16]string),
		PES:      make(map[uint16]*PESStream),
		PIDs:     make(map[uint16]int),
		Programs: make(map[uint16]*Program),
	}
}

func (r *Report) fail(err error) {
	l.WithField("prefix", r.Input).Debug(err)
	r.Failures[astibits.KindOf(err).String()]++
}

// String implements the Stringer interface
func (r Report) String() (o string) {
	o = fmt.Sprintf("%s - Packet size: %d - Packets: %d", r.Input, r.PacketSize, r.Packets)
	for _, k := range sortedKeys(r.Failures) {
		o += fmt.Sprintf("\n  Failures [%s]: %d", k, r.Failures[k])
	}
	for _, pid := range sortedKeys(r.PIDs) {
		o += fmt.Sprintf("\n  PID %d: %d packets", pid, r.PIDs[pid])
		if pcr, ok := r.LastPCR[pid]; ok {
			o += fmt.Sprintf(" - last PCR: %s", pcr)
		}
		if s, ok := r.PES[pid]; ok {
			o += fmt.Sprintf(" - %s", s)
		}
	}
	for _, n := range sortedKeys(r.Programs) {
		o += fmt.Sprintf("\n  * %s", r.Programs[n])
	}
	return
}

func sortedKeys[K uint16 | string, V any](m map[K]V) (ks []K) {
	for k := range m {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return
}

// PESStream represents the PES headers found on a PID
type PESStream struct {
	Count    int    `json:"count"`
	LastPTS  string `json:"last_pts,omitempty"`
	StreamID uint8  `json:"stream_id"`
}

// String implements the Stringer interface
func (s PESStream) String() string {
	return fmt.Sprintf("stream id 0x%x: %d PES headers - last PTS: %s", s.StreamID, s.Count, s.LastPTS)
}

// Program represents a program
type Program struct {
	Descriptors []string  `json:"descriptors,omitempty"`
	ID          uint16    `json:"id,omitempty"`
	MapID       uint16    `json:"map_id,omitempty"`
	PCRPID      uint16    `json:"pcr_pid,omitempty"`
	Streams     []*Stream `json:"streams,omitempty"`
}

// Stream represents a stream
type Stream struct {
	Descriptors []string `json:"descriptors,omitempty"`
	ID          uint16   `json:"id,omitempty"`
	Type        uint8    `json:"type,omitempty"`
}

func newProgram(id, mapID uint16) *Program {
	return &Program{
		ID:    id,
		MapID: mapID,
	}
}

func newStream(id uint16, _type uint8) *Stream {
	return &Stream{
		ID:   id,
		Type: _type,
	}
}

// String implements the Stringer interface
func (p Program) String() (o string) {
	o = fmt.Sprintf("[%d] - Map ID: %d - PCR PID: %d", p.ID, p.MapID, p.PCRPID)
	for _, d := range p.Descriptors {
		o += fmt.Sprintf(" - %s", d)
	}
	for _, s := range p.Streams {
		o += fmt.Sprintf("\n    * %s", s.String())
	}
	return
}

// String implements the Stringer interface
func (s Stream) String() (o string) {
	// Get type
	var t = fmt.Sprintf("unlisted stream type %d", s.Type)
	switch s.Type {
	case astibits.StreamTypeMPEG1Video:
		t = "MPEG-1 video"
	case astibits.StreamTypeMPEG2Video:
		t = "MPEG-2 video"
	case astibits.StreamTypeMPEG1Audio:
		t = "MPEG-1 audio"
	case astibits.StreamTypeMPEG2HalvedSampleRateAudio:
		t = "MPEG-2 halved sample rate audio"
	case astibits.StreamTypeMPEG2PacketizedData:
		t = "DVB subtitles/VBI or AC-3"
	case astibits.StreamTypeADTS:
		t = "ADTS"
	case astibits.StreamTypeH264Video:
		t = "H264 video"
	case astibits.StreamTypeH265Video:
		t = "H265 video"
	case astibits.StreamTypeAC3Audio:
		t = "AC-3 audio"
	case astibits.StreamTypeEAC3Audio:
		t = "E-AC-3 audio"
	case astibits.StreamTypeSCTE35:
		t = "SCTE-35"
	}

	// Output
	o = fmt.Sprintf("[%d] - Type: %s", s.ID, t)
	for _, d := range s.Descriptors {
		o += fmt.Sprintf(" - %s", d)
	}
	return
}

func descriptorToString(d *astibits.Descriptor) string {
	switch d.Tag {
	case astibits.DescriptorTagISO639Language:
		ls, err := d.ISO639Languages()
		if err != nil {
			break
		}
		var os []string
		for _, i := range ls {
			os = append(os, fmt.Sprintf("language: %s | audio type: %d", i.Language, i.AudioType))
		}
		return "[ISO639 language] " + strings.Join(os, " - ")
	case astibits.DescriptorTagMaximumBitrate:
		b, err := d.MaximumBitrate()
		if err != nil {
			break
		}
		return fmt.Sprintf("[Maximum bitrate] maximum bitrate: %d", b)
	case astibits.DescriptorTagRegistration:
		f, err := d.Registration()
		if err != nil {
			break
		}
		return fmt.Sprintf("[Registration] format identifier: 0x%08x", f)
	case astibits.DescriptorTagStreamIdentifier:
		t, err := d.StreamIdentifier()
		if err != nil {
			break
		}
		return fmt.Sprintf("[Stream identifier] stream identifier component tag: %d", t)
	}
	return fmt.Sprintf("unlisted descriptor tag 0x%x", d.Tag)
}

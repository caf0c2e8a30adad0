package astibits

import (
	"github.com/pkg/errors"
)

// PIDs
const (
	PIDPAT  = 0x0    // Program Association Table (PAT) contains a directory listing of all Program Map Tables.
	PIDCAT  = 0x1    // Conditional Access Table (CAT) contains a directory listing of all ITU-T Rec. H.222 entitlement management message streams used by Program Map Tables.
	PIDTSDT = 0x2    // Transport Stream Description Table (TSDT) contains descriptors related to the overall transport stream
	PIDNull = 0x1fff // Null Packet (used for fixed bandwidth padding)
)

// Data represents the structure decoded out of a single packet payload
// At most one of PAT, PMT and PES is set
type Data struct {
	PAT *PATData
	PES *PESData
	PID uint16
	PMT *PMTData
}

// DecodeData decodes the structure starting in the payload of p, if any
// Only payloads fitting in a single packet are supported, nothing is reassembled across packets
// pm is updated with the decoded PATs and PMTs and may be nil
func DecodeData(p *Packet, pm *ProgramMap) (d *Data, err error) {
	// Nothing starts in this packet
	if !p.Header.PayloadUnitStartIndicator || len(p.Payload) == 0 {
		return
	}

	// Switch on PID
	pid := p.Header.PID
	switch {
	case pid == PIDPAT:
		d = &Data{PID: pid, PAT: &PATData{}}
		if err = d.PAT.Decode(p.Payload); err != nil {
			err = errors.Wrap(err, "astibits: decoding PAT failed")
			return
		}
		if pm != nil {
			pm.AddPAT(d.PAT)
		}
	case pm != nil && pm.IsPMT(pid):
		d = &Data{PID: pid, PMT: &PMTData{}}
		if err = d.PMT.Decode(p.Payload); err != nil {
			err = errors.Wrap(err, "astibits: decoding PMT failed")
			return
		}
		pm.AddPMT(d.PMT)
	case pid == PIDCAT || pid == PIDTSDT || pid == PIDNull:
		// Information in a CAT payload is private and dependent on the CA system
	case IsPESPayload(p.Payload):
		d = &Data{PID: pid, PES: &PESData{}}
		if err = d.PES.Decode(p.Payload); err != nil {
			err = errors.Wrap(err, "astibits: decoding PES failed")
			return
		}
	}
	return
}

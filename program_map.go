package astibits

import "sync"

// ProgramMap keeps track of the PMT PIDs announced by PATs and of the elementary stream PIDs
// announced by PMTs
// It is safe for concurrent use
type ProgramMap struct {
	m  *sync.Mutex
	es map[uint16]uint16 // map[ElementaryPID]ProgramNumber
	p  map[uint16]uint16 // map[ProgramMapID]ProgramNumber
}

// NewProgramMap creates a new program map
func NewProgramMap() *ProgramMap {
	return &ProgramMap{
		m:  &sync.Mutex{},
		es: make(map[uint16]uint16),
		p:  make(map[uint16]uint16),
	}
}

// AddPAT records the PMT PIDs of a PAT. Network entries are ignored.
func (m *ProgramMap) AddPAT(d *PATData) {
	m.m.Lock()
	defer m.m.Unlock()
	for _, p := range d.Programs() {
		if p.IsNetwork() {
			continue
		}
		m.p[p.ProgramMapID] = p.ProgramNumber
	}
}

// AddPMT records the elementary stream PIDs of a PMT
func (m *ProgramMap) AddPMT(d *PMTData) {
	m.m.Lock()
	defer m.m.Unlock()
	for _, es := range d.ElementaryStreams() {
		m.es[es.ElementaryPID] = d.ProgramNumber
	}
}

// IsPMT checks whether the PID carries a PMT
func (m *ProgramMap) IsPMT(pid uint16) (ok bool) {
	m.m.Lock()
	defer m.m.Unlock()
	_, ok = m.p[pid]
	return
}

// ProgramNumber returns the number of the program the PID belongs to, either as its PMT PID
// or as one of its elementary stream PIDs
func (m *ProgramMap) ProgramNumber(pid uint16) (number uint16, ok bool) {
	m.m.Lock()
	defer m.m.Unlock()
	if number, ok = m.p[pid]; ok {
		return
	}
	number, ok = m.es[pid]
	return
}

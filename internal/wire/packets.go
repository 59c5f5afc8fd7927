package wire

// Vec2 is the wire-level representation of a 2D vector; it exists so this
// package has no dependency on internal/physics or internal/game, which
// convert to/from their own vector types at the boundary.
type Vec2 struct{ X, Y float64 }

// PlayerInit is one entry of InitConnectionServer's player list.
type PlayerInit struct {
	Name   string
	Colour [3]byte
}

// InitConnectionServer is the handshake-completion payload a client sends
// describing the player(s) it wants to control (spec.md §6).
type InitConnectionServer struct {
	Players []PlayerInit
}

func (*InitConnectionServer) Kind() Kind { return Initial }

func (p *InitConnectionServer) WriteBody(bs *BitStream) {
	bs.WriteByte(byte(len(p.Players)))
	for _, pl := range p.Players {
		bs.WritePascal50(pl.Name)
		bs.WriteByte(pl.Colour[0])
		bs.WriteByte(pl.Colour[1])
		bs.WriteByte(pl.Colour[2])
	}
}

func (p *InitConnectionServer) ReadBody(bs *BitStream) error {
	n, err := bs.ReadByte()
	if err != nil {
		return err
	}
	p.Players = make([]PlayerInit, 0, n)
	for i := 0; i < int(n); i++ {
		name, err := bs.ReadPascal50()
		if err != nil {
			return err
		}
		var colour [3]byte
		for j := range colour {
			b, err := bs.ReadByte()
			if err != nil {
				return err
			}
			colour[j] = b
		}
		p.Players = append(p.Players, PlayerInit{Name: name, Colour: colour})
	}
	return nil
}

// InitConnectionClient tells a newly joined client its tick and the
// object IDs allocated to its players.
type InitConnectionClient struct {
	Tick uint32
	IDs  []uint32
}

func (*InitConnectionClient) Kind() Kind { return Reliable }

func (p *InitConnectionClient) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	for _, id := range p.IDs {
		bs.WriteUint32LE(id)
	}
}

func (p *InitConnectionClient) ReadBody(bs *BitStream) error {
	tick, err := bs.ReadUint32LE()
	if err != nil {
		return err
	}
	p.Tick = tick
	p.IDs = nil
	for bs.Remaining() >= 4 {
		id, err := bs.ReadUint32LE()
		if err != nil {
			return err
		}
		p.IDs = append(p.IDs, id)
	}
	return nil
}

// ScriptPacket carries the operator- or server-provided client script body
// as opaque bytes; it is the one packet type always sent as BIG since
// script sources routinely exceed the MTU.
type ScriptPacket struct {
	Body []byte
}

func (*ScriptPacket) Kind() Kind { return Big }

func (p *ScriptPacket) WriteBody(bs *BitStream) { bs.WriteBytes(p.Body) }

func (p *ScriptPacket) ReadBody(bs *BitStream) error {
	p.Body = bs.ReadRemaining()
	return nil
}

// LevelProps carries the world's gravity and spawn point.
type LevelProps struct {
	Gravity Vec2
	Spawn   Vec2
}

func (*LevelProps) Kind() Kind { return Reliable }

func (p *LevelProps) WriteBody(bs *BitStream) {
	bs.WriteFloat64LE(p.Gravity.X)
	bs.WriteFloat64LE(p.Gravity.Y)
	bs.WriteFloat64LE(p.Spawn.X)
	bs.WriteFloat64LE(p.Spawn.Y)
}

func (p *LevelProps) ReadBody(bs *BitStream) error {
	var err error
	if p.Gravity.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Gravity.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Spawn.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Spawn.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	return nil
}

// PlayerAction is one locally-controlled player's requested action for a
// given tick, keyed by that player's object ID.
type PlayerAction struct {
	PlayerID uint32
	X, Y     float32
}

// UpdateClientInput carries a client's predicted input for a future tick,
// one entry per locally-controlled player.
type UpdateClientInput struct {
	Tick    uint32
	Actions []PlayerAction
}

func (*UpdateClientInput) Kind() Kind { return Normal }

func (p *UpdateClientInput) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	for _, a := range p.Actions {
		bs.WriteUint32LE(a.PlayerID)
		bs.WriteFloat32LE(a.X)
		bs.WriteFloat32LE(a.Y)
	}
}

func (p *UpdateClientInput) ReadBody(bs *BitStream) error {
	tick, err := bs.ReadUint32LE()
	if err != nil {
		return err
	}
	p.Tick = tick
	p.Actions = nil
	for bs.Remaining() >= 12 {
		id, err := bs.ReadUint32LE()
		if err != nil {
			return err
		}
		x, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		y, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		p.Actions = append(p.Actions, PlayerAction{PlayerID: id, X: x, Y: y})
	}
	return nil
}

// UpdateClientResponse is the server's immediate acknowledgement of an
// UpdateClientInput, used by the client to compute RTT and drive
// target_tick (spec.md §4.9).
type UpdateClientResponse struct {
	ClientTick uint32
	ServerTick uint32
}

func (*UpdateClientResponse) Kind() Kind { return Normal }

func (p *UpdateClientResponse) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.ClientTick)
	bs.WriteUint32LE(p.ServerTick)
}

func (p *UpdateClientResponse) ReadBody(bs *BitStream) error {
	var err error
	if p.ClientTick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ServerTick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	return nil
}

// PlayerState is the per-player authoritative state broadcast every tick
// a player's action was applied.
type PlayerState struct {
	Tick   uint32
	ID     uint32
	Pos    Vec2
	Vel    Vec2
	Rot    float64
	RotVel float64
	Action [2]float32
}

func (*PlayerState) Kind() Kind { return Normal }

func (p *PlayerState) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
	bs.WriteFloat64LE(p.Pos.X)
	bs.WriteFloat64LE(p.Pos.Y)
	bs.WriteFloat64LE(p.Vel.X)
	bs.WriteFloat64LE(p.Vel.Y)
	bs.WriteFloat64LE(p.Rot)
	bs.WriteFloat64LE(p.RotVel)
	bs.WriteFloat32LE(p.Action[0])
	bs.WriteFloat32LE(p.Action[1])
}

func (p *PlayerState) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.Pos.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Pos.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Vel.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Vel.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Rot, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.RotVel, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Action[0], err = bs.ReadFloat32LE(); err != nil {
		return err
	}
	if p.Action[1], err = bs.ReadFloat32LE(); err != nil {
		return err
	}
	return nil
}

// NewObject announces a created object, carrying its initial kinematics
// and its full JSON-shaped record (spec.md §6).
type NewObject struct {
	Tick   uint32
	ID     uint32
	Pos    Vec2
	Vel    Vec2
	Rot    float64
	RotVel float64
	Record []byte // JSON, opaque to the wire layer
}

func (*NewObject) Kind() Kind { return Reliable }

func (p *NewObject) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
	bs.WriteFloat64LE(p.Pos.X)
	bs.WriteFloat64LE(p.Pos.Y)
	bs.WriteFloat64LE(p.Vel.X)
	bs.WriteFloat64LE(p.Vel.Y)
	bs.WriteFloat64LE(p.Rot)
	bs.WriteFloat64LE(p.RotVel)
	bs.WriteString(string(p.Record))
}

func (p *NewObject) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.Pos.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Pos.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Vel.X, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Vel.Y, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.Rot, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	if p.RotVel, err = bs.ReadFloat64LE(); err != nil {
		return err
	}
	record, err := bs.ReadString()
	if err != nil {
		return err
	}
	p.Record = []byte(record)
	return nil
}

// DeleteObject announces an object's removal.
type DeleteObject struct {
	Tick uint32
	ID   uint32
}

func (*DeleteObject) Kind() Kind { return Reliable }

func (p *DeleteObject) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
}

func (p *DeleteObject) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	return nil
}

// ObjectProps announces a property change (colour, mass, flags, trigger)
// flushed promptly and independent of ObjectSync priority.
type ObjectProps struct {
	Tick   uint32
	ID     uint32
	Record []byte // JSON
}

func (*ObjectProps) Kind() Kind { return Reliable }

func (p *ObjectProps) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
	bs.WriteString(string(p.Record))
}

func (p *ObjectProps) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	record, err := bs.ReadString()
	if err != nil {
		return err
	}
	p.Record = []byte(record)
	return nil
}

// ObjectKinematics is one object's entry in an UpdateObjects batch.
type ObjectKinematics struct {
	ID     uint32
	Pos    Vec2
	Vel    Vec2
	Rot    float32
	RotVel float32
}

// UpdateObjects carries a priority-driven batch of object state deltas,
// grouped into at most 20 objects per packet (spec.md §4.7).
type UpdateObjects struct {
	Tick    uint32
	Objects []ObjectKinematics
}

func (*UpdateObjects) Kind() Kind { return Normal }

func (p *UpdateObjects) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	for _, o := range p.Objects {
		bs.WriteUint32LE(o.ID)
		bs.WriteFloat32LE(float32(o.Pos.X))
		bs.WriteFloat32LE(float32(o.Pos.Y))
		bs.WriteFloat32LE(float32(o.Vel.X))
		bs.WriteFloat32LE(float32(o.Vel.Y))
		bs.WriteFloat32LE(o.Rot)
		bs.WriteFloat32LE(o.RotVel)
	}
}

func (p *UpdateObjects) ReadBody(bs *BitStream) error {
	tick, err := bs.ReadUint32LE()
	if err != nil {
		return err
	}
	p.Tick = tick
	p.Objects = nil
	const entrySize = 4 + 6*4
	for bs.Remaining() >= entrySize {
		var o ObjectKinematics
		if o.ID, err = bs.ReadUint32LE(); err != nil {
			return err
		}
		x, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		y, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		o.Pos = Vec2{X: float64(x), Y: float64(y)}
		vx, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		vy, err := bs.ReadFloat32LE()
		if err != nil {
			return err
		}
		o.Vel = Vec2{X: float64(vx), Y: float64(vy)}
		if o.Rot, err = bs.ReadFloat32LE(); err != nil {
			return err
		}
		if o.RotVel, err = bs.ReadFloat32LE(); err != nil {
			return err
		}
		p.Objects = append(p.Objects, o)
	}
	return nil
}

// NewConstraint announces a constraint between two objects.
type NewConstraint struct {
	Tick   uint32
	IDA    uint32
	IDB    uint32
	Record []byte // JSON
}

func (*NewConstraint) Kind() Kind { return Reliable }

func (p *NewConstraint) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.IDA)
	bs.WriteUint32LE(p.IDB)
	bs.WriteString(string(p.Record))
}

func (p *NewConstraint) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.IDA, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.IDB, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	record, err := bs.ReadString()
	if err != nil {
		return err
	}
	p.Record = []byte(record)
	return nil
}

// NewPlayer announces a joined player.
type NewPlayer struct {
	Tick   uint32
	ID     uint32
	Name   string
	Colour [3]byte
}

func (*NewPlayer) Kind() Kind { return Reliable }

func (p *NewPlayer) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
	bs.WriteString(p.Name)
	bs.WriteByte(p.Colour[0])
	bs.WriteByte(p.Colour[1])
	bs.WriteByte(p.Colour[2])
}

func (p *NewPlayer) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.Name, err = bs.ReadString(); err != nil {
		return err
	}
	for i := range p.Colour {
		b, err := bs.ReadByte()
		if err != nil {
			return err
		}
		p.Colour[i] = b
	}
	return nil
}

// DeletePlayer announces a player's departure.
type DeletePlayer struct {
	Tick uint32
	ID   uint32
}

func (*DeletePlayer) Kind() Kind { return Reliable }

func (p *DeletePlayer) WriteBody(bs *BitStream) {
	bs.WriteUint32LE(p.Tick)
	bs.WriteUint32LE(p.ID)
}

func (p *DeletePlayer) ReadBody(bs *BitStream) error {
	var err error
	if p.Tick, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	if p.ID, err = bs.ReadUint32LE(); err != nil {
		return err
	}
	return nil
}

// Disconnect carries a human-readable disconnect reason.
type Disconnect struct {
	Reason string
}

func (*Disconnect) Kind() Kind { return Normal }

func (p *Disconnect) WriteBody(bs *BitStream) { bs.WriteBytes([]byte(p.Reason)) }

func (p *Disconnect) ReadBody(bs *BitStream) error {
	p.Reason = string(bs.ReadRemaining())
	return nil
}

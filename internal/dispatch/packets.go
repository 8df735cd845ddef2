package dispatch

import (
	"fmt"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// The packet types below are the wire commands a node exchanges with its
// peers over the transport layer (spec §6). Each carries exactly the
// fields its ChangeManager handler needs; MarshalBinary/UnmarshalBinary
// give them a self-describing byte form independent of any particular
// transport, built on the framing primitives in internal/stream.

// ObjectSubscribe is sent by a slave-to-be to request a mapping. Address,
// if non-empty, is the dialable address of the requesting node, letting
// the master reach it directly for pushes rather than depending on a
// separate node registry (spec §1 scope exclusions: this is the smallest
// such registry, carried inline on the request that needs it).
type ObjectSubscribe struct {
	ObjectId              core.ObjectId
	Node                  core.NodeId
	InstanceId            core.InstanceId
	RequestedStartVersion core.Version
	Address               string
}

func (p ObjectSubscribe) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	writeNodeId(os, p.Node)
	os.WriteUint64(uint64(p.InstanceId))
	os.WriteVersion(p.RequestedStartVersion.Hi, p.RequestedStartVersion.Lo)
	os.WriteBlob([]byte(p.Address))
	return os.Bytes(), nil
}

func (p *ObjectSubscribe) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	if p.Node, err = readNodeId(is); err != nil {
		return err
	}
	iid, err := is.ReadUint64()
	if err != nil {
		return err
	}
	p.InstanceId = core.InstanceId(iid)
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.RequestedStartVersion = core.Version{Hi: hi, Lo: lo}
	addr, err := is.ReadBlob()
	if err != nil {
		return err
	}
	p.Address = string(addr)
	return nil
}

// ObjectSubscribeReply answers an ObjectSubscribe with the version the
// slave should consider its starting point and the InstanceId the master
// uses for this object, which the slave records as its own
// MasterInstanceId (spec §6: "fields must match").
type ObjectSubscribeReply struct {
	ObjectId         core.ObjectId
	FirstUsable      core.Version
	MasterInstanceId core.InstanceId
	Accepted         bool
	Reason           string
}

func (p ObjectSubscribeReply) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	os.WriteVersion(p.FirstUsable.Hi, p.FirstUsable.Lo)
	os.WriteUint64(uint64(p.MasterInstanceId))
	if p.Accepted {
		os.WriteUint64(1)
	} else {
		os.WriteUint64(0)
	}
	os.WriteBlob([]byte(p.Reason))
	return os.Bytes(), nil
}

func (p *ObjectSubscribeReply) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.FirstUsable = core.Version{Hi: hi, Lo: lo}
	miid, err := is.ReadUint64()
	if err != nil {
		return err
	}
	p.MasterInstanceId = core.InstanceId(miid)
	accepted, err := is.ReadUint64()
	if err != nil {
		return err
	}
	p.Accepted = accepted != 0
	reason, err := is.ReadBlob()
	if err != nil {
		return err
	}
	p.Reason = string(reason)
	return nil
}

// ObjectInstance carries a full snapshot for one version (spec §6).
type ObjectInstance struct {
	ObjectId    core.ObjectId
	InstanceId  core.InstanceId
	Version     core.Version
	FirstUsable core.Version
	Payload     []byte
}

func (p ObjectInstance) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	os.WriteUint64(uint64(p.InstanceId))
	os.WriteVersion(p.Version.Hi, p.Version.Lo)
	os.WriteVersion(p.FirstUsable.Hi, p.FirstUsable.Lo)
	os.WriteBlob(p.Payload)
	return os.Bytes(), nil
}

func (p *ObjectInstance) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	iid, err := is.ReadUint64()
	if err != nil {
		return err
	}
	p.InstanceId = core.InstanceId(iid)
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.Version = core.Version{Hi: hi, Lo: lo}
	hi, lo, err = is.ReadVersion()
	if err != nil {
		return err
	}
	p.FirstUsable = core.Version{Hi: hi, Lo: lo}
	if p.Payload, err = is.ReadBlob(); err != nil {
		return err
	}
	return nil
}

// ToRecord converts a received instance packet into a version.Record for
// delivery to a slave change manager's Push.
func (p ObjectInstance) ToRecord() version.Record {
	return version.Record{Version: p.Version, Payload: p.Payload, IsDelta: false}
}

// ObjectDelta carries an incremental change since the previous version
// (spec §6). Only valid for DELTA objects.
type ObjectDelta struct {
	ObjectId   core.ObjectId
	InstanceId core.InstanceId
	Version    core.Version
	Payload    []byte
}

func (p ObjectDelta) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	os.WriteUint64(uint64(p.InstanceId))
	os.WriteVersion(p.Version.Hi, p.Version.Lo)
	os.WriteBlob(p.Payload)
	return os.Bytes(), nil
}

func (p *ObjectDelta) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	iid, err := is.ReadUint64()
	if err != nil {
		return err
	}
	p.InstanceId = core.InstanceId(iid)
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.Version = core.Version{Hi: hi, Lo: lo}
	if p.Payload, err = is.ReadBlob(); err != nil {
		return err
	}
	return nil
}

// ToRecord converts a received delta packet into a version.Record.
func (p ObjectDelta) ToRecord() version.Record {
	return version.Record{Version: p.Version, Payload: p.Payload, IsDelta: true}
}

// ObjectUnsubscribe tells a master a slave is dropping its mapping.
type ObjectUnsubscribe struct {
	ObjectId core.ObjectId
	Node     core.NodeId
}

func (p ObjectUnsubscribe) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	writeNodeId(os, p.Node)
	return os.Bytes(), nil
}

func (p *ObjectUnsubscribe) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	if p.Node, err = readNodeId(is); err != nil {
		return err
	}
	return nil
}

// ObjectNewMaster announces a BecomeMaster transition to the previous master (spec
// §4.5, "Master migration").
type ObjectNewMaster struct {
	ObjectId      core.ObjectId
	NewMasterNode core.NodeId
	AsOfVersion   core.Version
}

func (p ObjectNewMaster) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	writeNodeId(os, p.NewMasterNode)
	os.WriteVersion(p.AsOfVersion.Hi, p.AsOfVersion.Lo)
	return os.Bytes(), nil
}

func (p *ObjectNewMaster) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	if p.NewMasterNode, err = readNodeId(is); err != nil {
		return err
	}
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.AsOfVersion = core.Version{Hi: hi, Lo: lo}
	return nil
}

// ObjectCommit is an out-of-band notification that a new head version
// exists, used by transports that separate "here is data" from "here is
// the fact that data changed" (spec §5, hint-only new-head notification).
type ObjectCommit struct {
	ObjectId    core.ObjectId
	HeadVersion core.Version
}

func (p ObjectCommit) MarshalBinary() ([]byte, error) {
	os := stream.NewOutputStream()
	writeObjectId(os, p.ObjectId)
	os.WriteVersion(p.HeadVersion.Hi, p.HeadVersion.Lo)
	return os.Bytes(), nil
}

func (p *ObjectCommit) UnmarshalBinary(buf []byte) error {
	is := stream.NewInputStream(buf)
	var err error
	if p.ObjectId, err = readObjectId(is); err != nil {
		return err
	}
	hi, lo, err := is.ReadVersion()
	if err != nil {
		return err
	}
	p.HeadVersion = core.Version{Hi: hi, Lo: lo}
	return nil
}

func writeObjectId(os *stream.OutputStream, id core.ObjectId) {
	os.WriteBlob(id[:])
}

func readObjectId(is *stream.InputStream) (core.ObjectId, error) {
	b, err := is.ReadBlob()
	if err != nil {
		return core.ObjectId{}, fmt.Errorf("dispatch: reading object id: %w", err)
	}
	var id core.ObjectId
	if len(b) != len(id) {
		return core.ObjectId{}, fmt.Errorf("dispatch: object id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func writeNodeId(os *stream.OutputStream, id core.NodeId) {
	os.WriteBlob(id[:])
}

func readNodeId(is *stream.InputStream) (core.NodeId, error) {
	b, err := is.ReadBlob()
	if err != nil {
		return core.NodeId{}, fmt.Errorf("dispatch: reading node id: %w", err)
	}
	var id core.NodeId
	if len(b) != len(id) {
		return core.NodeId{}, fmt.Errorf("dispatch: node id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

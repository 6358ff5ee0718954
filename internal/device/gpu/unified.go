package gpu

import (
	"github.com/pkg/errors"

	"github.com/slate-ml/slate/internal/buffer"
	"github.com/slate-ml/slate/internal/device"
	"github.com/slate-ml/slate/internal/graph"
	"github.com/slate-ml/slate/internal/ident"
)

// FromHost converts a cache-tracked host buffer into a buffer on this device
// without giving up slot identity: the construction occupies the current
// counter position, so replaying the conversion in a later epoch returns the
// already-converted allocation instead of transferring again.
//
// With unified memory on, the device allocation keeps the host buffer's
// memory as its mirror, so the conversion is zero-copy on the host side.
// Buffers that do not live in their device's cache cannot carry slot
// identity across epochs; converting one fails with ErrConstruct.
func FromHost[T buffer.Num](d *Device, host *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	if host.Flag() != device.FlagCache {
		return nil, errors.Wrapf(device.ErrConstruct,
			"host buffer is %s, conversion needs a cache-tracked buffer", host.Flag())
	}
	hostBytes := host.Raw().HostBytes()
	if hostBytes == nil {
		return nil, errors.Wrap(device.ErrConstruct, "host buffer has no host-addressable memory")
	}

	id := ident.Ident{Count: d.idents.Get(), Len: host.Len()}
	_, hit := d.cache.Lookup(id)

	raw, err := d.cache.Get(id, func(elems int, node graph.Node) (device.RawAlloc, error) {
		alloc, err := d.AllocRaw(elems, host.Raw().ElemSize(), node)
		if err != nil {
			return nil, err
		}
		a := alloc.(*gpuAlloc)
		if err := d.upload(a, hostBytes); err != nil {
			a.Release()
			return nil, err
		}
		if d.unified {
			a.mirror = hostBytes
		}
		return a, nil
	}, func() graph.Node {
		return d.graph.Add(int(id.Count), host.Len(), host.NodeIdx())
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		d.idents.Next(host.Len())
	}
	return buffer.FromRaw[T](d, raw, device.FlagCache), nil
}

package pool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmbfake"
)

func openRuntime(t *testing.T) (*vmb.Runtime, *vmbfake.Service, vmb.Handle) {
	t.Helper()
	fake := vmbfake.New(vmbfake.Options{})
	rt := vmb.NewRuntime(fake)
	require.NoError(t, rt.Startup(""))
	h, err := rt.OpenCamera(vmbfake.DefaultCamera().Info.ID, vmb.AccessModeFull)
	require.NoError(t, err)
	t.Cleanup(rt.Shutdown)
	return rt, fake, h
}

func revokeAndRelease(t *testing.T, rt *vmb.Runtime, p *Pool) {
	t.Helper()
	require.NoError(t, rt.RevokeAll(p.Handle()))
	p.MarkRevoked()
	require.NoError(t, p.Release())
}

func TestAllocate_Properties(t *testing.T) {
	t.Run("Property_1_CountAndAlignment", func(t *testing.T) {
		rt, fake, h := openRuntime(t)

		for _, count := range []int{MinFrames, 4, 16, MaxFrames} {
			for _, payload := range []uint32{1, 63, 64, 4096, 1000003} {
				p, err := Allocate(rt, h, payload, count, 0xCAFE)
				require.NoError(t, err)
				require.Equal(t, count, p.Len())
				assert.Equal(t, count, fake.Announced(h))

				for i, s := range p.Slots() {
					d := s.Descriptor()
					assert.Equal(t, i, s.Index())
					assert.GreaterOrEqual(t, len(s.Buffer()), int(payload))
					assert.Zero(t, d.Buffer%Alignment, "buffer %d not aligned", i)
					assert.Zero(t, uintptr(unsafe.Pointer(d))%Alignment, "descriptor %d not aligned", i)
					assert.Equal(t, payload, d.BufferSize)
					assert.Equal(t, uintptr(0xCAFE), d.Context[0])
					assert.Equal(t, uintptr(i), d.Context[1])
					assert.Equal(t, Application, s.Owner())
					assert.True(t, s.Announced())
				}

				revokeAndRelease(t, rt, p)
				assert.True(t, p.Released())
			}
		}
	})

	t.Run("Property_2_OutOfRangeFailsBeforeNativeCall", func(t *testing.T) {
		rt, fake, h := openRuntime(t)
		fake.ResetCalls()

		for _, count := range []int{-1, 0, 1, 2, MaxFrames + 1, 1000} {
			p, err := Allocate(rt, h, 4096, count, 1)
			assert.ErrorIs(t, err, ErrCount)
			assert.Nil(t, p)
		}
		_, err := Allocate(rt, h, 0, 8, 1)
		assert.ErrorIs(t, err, vmb.ErrInvalidArgument)
		_, err = Allocate(rt, 0, 4096, 8, 1)
		assert.ErrorIs(t, err, vmb.ErrInvalidHandle)

		assert.Empty(t, fake.Calls())
	})

	t.Run("Property_3_BuffersDoNotOverlap", func(t *testing.T) {
		rt, _, h := openRuntime(t)
		p, err := Allocate(rt, h, 100, 5, 1)
		require.NoError(t, err)
		defer revokeAndRelease(t, rt, p)

		for i, s := range p.Slots() {
			for j := range s.Buffer() {
				s.Buffer()[j] = byte(i)
			}
		}
		for i, s := range p.Slots() {
			for _, b := range s.Buffer() {
				require.Equal(t, byte(i), b)
			}
		}
	})
}

func TestAllocate_PartialFailure(t *testing.T) {
	rt, fake, h := openRuntime(t)
	fake.Inject("FrameAnnounce", vmb.StatusResources, 3)

	p, err := Allocate(rt, h, 4096, 8, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, vmb.StatusResources)
	require.NotNil(t, p, "partial pool is returned for teardown")

	assert.Equal(t, 3, p.AnnouncedCount())
	assert.Equal(t, 3, fake.Announced(h))

	assert.ErrorIs(t, p.Release(), ErrStillAnnounced)
	fake.ClearFaults()
	revokeAndRelease(t, rt, p)
}

func TestRelease(t *testing.T) {
	t.Run("WithoutRevoke", func(t *testing.T) {
		rt, fake, h := openRuntime(t)
		p, err := Allocate(rt, h, 4096, 4, 1)
		require.NoError(t, err)

		err = p.Release()
		assert.ErrorIs(t, err, ErrStillAnnounced)
		assert.False(t, p.Released(), "memory stays mapped")
		assert.Equal(t, 4, fake.Announced(h))

		revokeAndRelease(t, rt, p)
	})

	t.Run("WhileDriverOwned", func(t *testing.T) {
		rt, _, h := openRuntime(t)
		p, err := Allocate(rt, h, 4096, 4, 1)
		require.NoError(t, err)

		require.NoError(t, p.Slot(2).ToDriver())
		require.NoError(t, rt.RevokeAll(h))
		p.MarkRevoked()

		assert.ErrorIs(t, p.Release(), ErrDriverOwned)
		assert.Equal(t, 1, p.Reclaim())
		require.NoError(t, p.Release())
	})

	t.Run("Twice", func(t *testing.T) {
		rt, _, h := openRuntime(t)
		p, err := Allocate(rt, h, 4096, 3, 1)
		require.NoError(t, err)
		revokeAndRelease(t, rt, p)
		assert.NoError(t, p.Release())
	})
}

func TestSlot_Ownership(t *testing.T) {
	rt, _, h := openRuntime(t)
	p, err := Allocate(rt, h, 64, 3, 1)
	require.NoError(t, err)
	defer revokeAndRelease(t, rt, p)

	s := p.Slot(0)
	require.NoError(t, s.ToDriver())
	assert.Equal(t, Driver, s.Owner())
	assert.ErrorIs(t, s.ToDriver(), ErrOwnership)
	assert.Equal(t, 1, p.Outstanding())

	require.NoError(t, s.ToApplication())
	assert.ErrorIs(t, s.ToApplication(), ErrOwnership)
	assert.Equal(t, 0, p.Outstanding())
}

func TestLookup(t *testing.T) {
	rt, _, h := openRuntime(t)
	p, err := Allocate(rt, h, 64, 4, 7)
	require.NoError(t, err)
	defer revokeAndRelease(t, rt, p)

	for _, s := range p.Slots() {
		got, ok := p.Lookup(s.Descriptor())
		require.True(t, ok)
		assert.Same(t, s, got)
	}

	foreign := *p.Slot(1).Descriptor()
	_, ok := p.Lookup(&foreign)
	assert.False(t, ok, "copy of a descriptor is not the announced one")

	foreign.Context[0] = 8
	_, ok = p.Lookup(&foreign)
	assert.False(t, ok)

	_, ok = p.Lookup(nil)
	assert.False(t, ok)
}

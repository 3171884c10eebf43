package vulkan

import (
	"sync"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/meta"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type metaPipeline struct {
	key  meta.Key
	root native.RootSignature
	pso  native.PipelineState
}

// metaCache builds the rewrite kernels on first use and keeps them for the
// lifetime of the device.
type metaCache struct {
	device *VulkanDevice

	mu        sync.Mutex
	pipelines map[meta.Key]*metaPipeline
	// command signature running fan rewrites from the draw rewrite output
	fanDispatch native.CommandSignature
}

func newMetaCache(device *VulkanDevice) *metaCache {
	return &metaCache{device: device, pipelines: make(map[meta.Key]*metaPipeline)}
}

func (m *metaCache) get(key meta.Key) (*metaPipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pipelines[key]; ok {
		return p, nil
	}

	p := &metaPipeline{key: key}
	err := m.device.locks.SafeCall(PipelineManagement, func() error {
		root, err := m.device.Native.CreateRootSignature(meta.RootSignatureDesc(key))
		if err != nil {
			return resultError("failed to create meta root signature", err)
		}
		desc, err := meta.PipelineDesc(key, root)
		if err != nil {
			root.Release()
			return core.Mark(err, core.ErrUnknown)
		}
		pso, err := m.device.Native.CreateComputePipelineState(desc)
		if err != nil {
			root.Release()
			return resultError("failed to create meta pipeline", err)
		}
		p.root, p.pso = root, pso
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.pipelines[key] = p
	core.LogDebug("meta pipeline %s created", key.Label())
	return p, nil
}

// fanDispatchSignature returns the signature of the records written by fan
// draw rewrites: the fan rewrite parameters followed by its dispatch size.
func (m *metaCache) fanDispatchSignature() (native.CommandSignature, error) {
	fan, err := m.get(meta.Key{Kind: meta.KindFanRewrite})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fanDispatch != nil {
		return m.fanDispatch, nil
	}
	desc := native.CommandSignatureDesc{
		ByteStride: meta.FanExecDwords * 4,
		Arguments: []native.IndirectArgumentDesc{
			{Type: native.IndirectArgumentTypeConstant, RootParameterIndex: meta.RootParamConstants, Num32BitValuesToSet: meta.ParamsDwords},
			{Type: native.IndirectArgumentTypeDispatch},
		},
	}
	sig, err := m.device.Native.CreateCommandSignature(desc, fan.root)
	if err != nil {
		return nil, resultError("failed to create fan dispatch signature", err)
	}
	m.fanDispatch = sig
	return sig, nil
}

// Warm builds every kernel variant up front.
func (m *metaCache) Warm() error {
	for _, k := range meta.AllKeys() {
		if _, err := m.get(k); err != nil {
			return err
		}
	}
	return nil
}

func (m *metaCache) destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.pipelines {
		p.pso.Release()
		p.root.Release()
		delete(m.pipelines, k)
	}
	if m.fanDispatch != nil {
		m.fanDispatch.Release()
		m.fanDispatch = nil
	}
}

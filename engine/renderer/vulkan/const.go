package vulkan

/**
 * @brief Max number of descriptor sets bound at once per bind point.
 */
const VULKAN_MAX_SETS uint32 = 4

/**
 * @brief Max number of vertex buffer bindings.
 */
const VULKAN_MAX_VERTEX_BUFFERS uint32 = 16

/**
 * @brief Max number of viewports and scissors.
 */
const VULKAN_MAX_VIEWPORTS uint32 = 16

/**
 * @brief Max size of the push constant block, in 32-bit words.
 */
const VULKAN_MAX_PUSH_CONSTANT_DWORDS uint32 = 32

/**
 * @brief Max number of dynamic uniform/storage buffers in a pipeline layout.
 */
const VULKAN_MAX_DYNAMIC_BUFFERS uint32 = 16

/**
 * @brief Number of 32-bit system values passed to graphics shaders:
 * first vertex, base instance, draw id and is-indexed.
 */
const VULKAN_SYSVAL_DWORDS uint32 = 4

// WholeSize selects the remainder of a buffer from an offset.
const WholeSize = ^uint64(0)

// RemainingMipLevels and RemainingArrayLayers select the remainder of an
// image from a base level or layer.
const (
	RemainingMipLevels   = ^uint32(0)
	RemainingArrayLayers = ^uint32(0)
)

// Constant buffer views must be 256 byte aligned and sized.
const constantBufferAlignment = 256

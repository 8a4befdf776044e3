// Package previewgpu offers a GPU-accelerated preview of triangles pushed
// through a pkg/rdpq Queue: an offscreen Vulkan render target, a pipeline
// cache keyed by the RDP other-modes state that affects rasterization
// (Z compare/update), and a readback path that hands the
// renderer's dev tools an RGBA frame without ever touching a window or
// swapchain. The RDP itself still owns ground truth; this package exists so
// cmd/rdpqview and test tooling can sanity-check a capture's geometry on
// real GPU hardware instead of the bit-level software model in
// internal/cpsim.
package previewgpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/polypoyo/rdpq/pkg/rdpq"
)

// PipelineKey identifies a cached graphics pipeline variant by exactly the
// RDP other-modes fields that change how a triangle rasterizes: one-cycle
// vs two-cycle combining doesn't affect the preview (it never evaluates the
// color combiner), but Z comparison and Z write do.
type PipelineKey struct {
	ZCompare bool
	ZUpdate  bool
}

// PipelineKeyFromModes derives a PipelineKey from the other-modes state a
// Queue.SetOtherModes call last pushed.
func PipelineKeyFromModes(m rdpq.OtherModes) PipelineKey {
	return PipelineKey{ZCompare: m.ZCompare, ZUpdate: m.ZUpdate}
}

// previewVertex is the GPU-side vertex layout: clip-space position plus a
// flat Gouraud color. Texturing is out of scope for the preview — it exists
// to sanity-check geometry and depth, not shade accuracy.
type previewVertex struct {
	Position [3]float32
	Color    [4]float32
}

const maxBatchVertices = 4096

// Renderer owns one offscreen Vulkan render target and its pipeline cache.
// It is not safe to share across goroutines without external locking beyond
// what FlushTriangle/SetClearColor/SetScissor/Frame already take.
type Renderer struct {
	mu sync.Mutex

	width, height int

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	graphicsQueue  vk.Queue
	queueFamily    uint32

	colorImage       vk.Image
	colorImageMemory vk.DeviceMemory
	colorImageView   vk.ImageView
	depthImage       vk.Image
	depthImageMemory vk.DeviceMemory
	depthImageView   vk.ImageView

	renderPass  vk.RenderPass
	framebuffer vk.Framebuffer

	pipelineLayout   vk.PipelineLayout
	pipeline         vk.Pipeline
	pipelineVariants map[PipelineKey]vk.Pipeline
	currentKey       PipelineKey

	vertexBuffer       vk.Buffer
	vertexBufferMemory vk.DeviceMemory

	stagingBuffer       vk.Buffer
	stagingBufferMemory vk.DeviceMemory

	commandPool   vk.CommandPool
	commandBuffer vk.CommandBuffer
	fence         vk.Fence

	vertShaderModule vk.ShaderModule
	fragShaderModule vk.ShaderModule

	clearColor [4]float32
	scissor    vk.Rect2D

	outputFrame []byte
	initialized bool
}

var vulkanInitOnce sync.Once
var vulkanInitErr error

// New sets up an offscreen Vulkan renderer at the given resolution. If the
// host has no usable Vulkan driver, New returns a non-nil error and callers
// should fall back to internal/cpsim's software framebuffer for preview
// purposes instead of failing outright.
func New(width, height int) (*Renderer, error) {
	r := &Renderer{
		width:            width,
		height:           height,
		pipelineVariants: make(map[PipelineKey]vk.Pipeline),
		outputFrame:      make([]byte, width*height*4),
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	r.initialized = true
	return r, nil
}

func (r *Renderer) init() error {
	vulkanInitOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			vulkanInitErr = fmt.Errorf("failed to load Vulkan library: %w", err)
			return
		}
		vulkanInitErr = vk.Init()
	})
	if vulkanInitErr != nil {
		return fmt.Errorf("failed to initialize Vulkan loader: %w", vulkanInitErr)
	}

	if err := r.createInstance(); err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	if err := r.selectPhysicalDevice(); err != nil {
		r.destroyInstance()
		return fmt.Errorf("failed to select physical device: %w", err)
	}
	if err := r.createDevice(); err != nil {
		r.destroyInstance()
		return fmt.Errorf("failed to create device: %w", err)
	}
	if err := r.createCommandPool(); err != nil {
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create command pool: %w", err)
	}
	if err := r.createOffscreenImages(); err != nil {
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create offscreen images: %w", err)
	}
	if err := r.createRenderPass(); err != nil {
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create render pass: %w", err)
	}
	if err := r.createFramebuffer(); err != nil {
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create framebuffer: %w", err)
	}
	if err := r.createPipelineLayout(); err != nil {
		r.destroyFramebuffer()
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	if err := r.createVertexBuffer(); err != nil {
		r.destroyPipelineLayout()
		r.destroyFramebuffer()
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create vertex buffer: %w", err)
	}
	if err := r.createStagingBuffer(); err != nil {
		r.destroyVertexBuffer()
		r.destroyPipelineLayout()
		r.destroyFramebuffer()
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create staging buffer: %w", err)
	}
	if err := r.createCommandBuffer(); err != nil {
		r.destroyStagingBuffer()
		r.destroyVertexBuffer()
		r.destroyPipelineLayout()
		r.destroyFramebuffer()
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create command buffer: %w", err)
	}
	if err := r.createFence(); err != nil {
		r.destroyStagingBuffer()
		r.destroyVertexBuffer()
		r.destroyPipelineLayout()
		r.destroyFramebuffer()
		r.destroyRenderPass()
		r.destroyOffscreenImages()
		r.destroyCommandPool()
		r.destroyDevice()
		r.destroyInstance()
		return fmt.Errorf("failed to create fence: %w", err)
	}

	r.scissor = vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: uint32(r.width), Height: uint32(r.height)},
	}
	return nil
}

func (r *Renderer) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString("rdpq preview"),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("rdpq"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	r.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (r *Renderer) selectPhysicalDevice() error {
	var deviceCount uint32
	vk.EnumeratePhysicalDevices(r.instance, &deviceCount, nil)
	if deviceCount == 0 {
		return fmt.Errorf("no Vulkan-capable GPUs found")
	}
	devices := make([]vk.PhysicalDevice, deviceCount)
	vk.EnumeratePhysicalDevices(r.instance, &deviceCount, devices)

	for _, device := range devices {
		var queueFamilyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
		queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

		for i, qf := range queueFamilies {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				r.physicalDevice = device
				r.queueFamily = uint32(i)
				return nil
			}
		}
	}
	return fmt.Errorf("no suitable GPU with a graphics queue found")
}

func (r *Renderer) createDevice() error {
	queuePriority := float32(1.0)
	queueCreateInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: r.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueCreateInfo},
	}
	var device vk.Device
	if res := vk.CreateDevice(r.physicalDevice, &deviceCreateInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %d", res)
	}
	r.device = device
	var queue vk.Queue
	vk.GetDeviceQueue(device, r.queueFamily, 0, &queue)
	r.graphicsQueue = queue
	return nil
}

func (r *Renderer) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: r.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(r.device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed: %d", res)
	}
	r.commandPool = pool
	return nil
}

func (r *Renderer) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(r.physicalDevice, &memProps)
	memProps.Deref()
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memProps.MemoryTypes[i].PropertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("failed to find a suitable memory type")
}

func (r *Renderer) createOffscreenImages() error {
	colorImageInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        vk.FormatR8g8b8a8Unorm,
		Extent:        vk.Extent3D{Width: uint32(r.width), Height: uint32(r.height), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var colorImage vk.Image
	if res := vk.CreateImage(r.device, &colorImageInfo, nil, &colorImage); res != vk.Success {
		return fmt.Errorf("vkCreateImage (color) failed: %d", res)
	}
	r.colorImage = colorImage

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(r.device, colorImage, &memReqs)
	memReqs.Deref()
	memType, err := r.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return err
	}
	colorAllocInfo := vk.MemoryAllocateInfo{SType: vk.StructureTypeMemoryAllocateInfo, AllocationSize: memReqs.Size, MemoryTypeIndex: memType}
	var colorMem vk.DeviceMemory
	if res := vk.AllocateMemory(r.device, &colorAllocInfo, nil, &colorMem); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory (color) failed: %d", res)
	}
	r.colorImageMemory = colorMem
	vk.BindImageMemory(r.device, colorImage, colorMem, 0)

	colorViewInfo := vk.ImageViewCreateInfo{
		SType: vk.StructureTypeImageViewCreateInfo, Image: colorImage, ViewType: vk.ImageViewType2d, Format: vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LevelCount: 1, LayerCount: 1},
	}
	var colorView vk.ImageView
	if res := vk.CreateImageView(r.device, &colorViewInfo, nil, &colorView); res != vk.Success {
		return fmt.Errorf("vkCreateImageView (color) failed: %d", res)
	}
	r.colorImageView = colorView

	depthFormat := vk.FormatD32Sfloat
	depthImageInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        depthFormat,
		Extent:        vk.Extent3D{Width: uint32(r.width), Height: uint32(r.height), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var depthImage vk.Image
	if res := vk.CreateImage(r.device, &depthImageInfo, nil, &depthImage); res != vk.Success {
		return fmt.Errorf("vkCreateImage (depth) failed: %d", res)
	}
	r.depthImage = depthImage

	vk.GetImageMemoryRequirements(r.device, depthImage, &memReqs)
	memReqs.Deref()
	memType, err = r.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return err
	}
	depthAllocInfo := vk.MemoryAllocateInfo{SType: vk.StructureTypeMemoryAllocateInfo, AllocationSize: memReqs.Size, MemoryTypeIndex: memType}
	var depthMem vk.DeviceMemory
	if res := vk.AllocateMemory(r.device, &depthAllocInfo, nil, &depthMem); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory (depth) failed: %d", res)
	}
	r.depthImageMemory = depthMem
	vk.BindImageMemory(r.device, depthImage, depthMem, 0)

	depthViewInfo := vk.ImageViewCreateInfo{
		SType: vk.StructureTypeImageViewCreateInfo, Image: depthImage, ViewType: vk.ImageViewType2d, Format: depthFormat,
		SubresourceRange: vk.ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit), LevelCount: 1, LayerCount: 1},
	}
	var depthView vk.ImageView
	if res := vk.CreateImageView(r.device, &depthViewInfo, nil, &depthView); res != vk.Success {
		return fmt.Errorf("vkCreateImageView (depth) failed: %d", res)
	}
	r.depthImageView = depthView
	return nil
}

func (r *Renderer) createRenderPass() error {
	colorAttachment := vk.AttachmentDescription{
		Format: vk.FormatR8g8b8a8Unorm, Samples: vk.SampleCount1Bit,
		LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpStore,
		StencilLoadOp: vk.AttachmentLoadOpDontCare, StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout: vk.ImageLayoutUndefined, FinalLayout: vk.ImageLayoutTransferSrcOptimal,
	}
	depthAttachment := vk.AttachmentDescription{
		Format: vk.FormatD32Sfloat, Samples: vk.SampleCount1Bit,
		LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpDontCare,
		StencilLoadOp: vk.AttachmentLoadOpDontCare, StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout: vk.ImageLayoutUndefined, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	colorRef := vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}
	depthRef := vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics, ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{colorRef}, PDepthStencilAttachment: &depthRef,
	}
	renderPassInfo := vk.RenderPassCreateInfo{
		SType: vk.StructureTypeRenderPassCreateInfo, AttachmentCount: 2,
		PAttachments: []vk.AttachmentDescription{colorAttachment, depthAttachment},
		SubpassCount: 1, PSubpasses: []vk.SubpassDescription{subpass},
	}
	var renderPass vk.RenderPass
	if res := vk.CreateRenderPass(r.device, &renderPassInfo, nil, &renderPass); res != vk.Success {
		return fmt.Errorf("vkCreateRenderPass failed: %d", res)
	}
	r.renderPass = renderPass
	return nil
}

func (r *Renderer) createFramebuffer() error {
	attachments := []vk.ImageView{r.colorImageView, r.depthImageView}
	fbInfo := vk.FramebufferCreateInfo{
		SType: vk.StructureTypeFramebufferCreateInfo, RenderPass: r.renderPass,
		AttachmentCount: uint32(len(attachments)), PAttachments: attachments,
		Width: uint32(r.width), Height: uint32(r.height), Layers: 1,
	}
	var framebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(r.device, &fbInfo, nil, &framebuffer); res != vk.Success {
		return fmt.Errorf("vkCreateFramebuffer failed: %d", res)
	}
	r.framebuffer = framebuffer
	return nil
}

func (r *Renderer) createPipelineLayout() error {
	vertModule, err := r.createShaderModule(previewVertexShaderSPIRV)
	if err != nil {
		return fmt.Errorf("failed to create vertex shader module: %w", err)
	}
	r.vertShaderModule = vertModule

	fragModule, err := r.createShaderModule(previewFragmentShaderSPIRV)
	if err != nil {
		vk.DestroyShaderModule(r.device, vertModule, nil)
		return fmt.Errorf("failed to create fragment shader module: %w", err)
	}
	r.fragShaderModule = fragModule

	layoutInfo := vk.PipelineLayoutCreateInfo{SType: vk.StructureTypePipelineLayoutCreateInfo}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(r.device, &layoutInfo, nil, &layout); res != vk.Success {
		return fmt.Errorf("vkCreatePipelineLayout failed: %d", res)
	}
	r.pipelineLayout = layout
	return nil
}

func (r *Renderer) createShaderModule(code []byte) (vk.ShaderModule, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType: vk.StructureTypeShaderModuleCreateInfo, CodeSize: uint64(len(code)), PCode: sliceUint32(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(r.device, &createInfo, nil, &module); res != vk.Success {
		return vk.NullShaderModule, fmt.Errorf("vkCreateShaderModule failed: %d", res)
	}
	return module, nil
}

// getOrCreatePipeline returns the cached pipeline for key, building and
// caching a new variant the first time a (ZCompare, ZUpdate) pair is seen.
func (r *Renderer) getOrCreatePipeline(key PipelineKey) (vk.Pipeline, error) {
	if p, ok := r.pipelineVariants[key]; ok {
		return p, nil
	}
	p, err := r.createPipelineVariant(key)
	if err != nil {
		return vk.NullPipeline, err
	}
	r.pipelineVariants[key] = p
	return p, nil
}

func (r *Renderer) createPipelineVariant(key PipelineKey) (vk.Pipeline, error) {
	vertStage := vk.PipelineShaderStageCreateInfo{
		SType: vk.StructureTypePipelineShaderStageCreateInfo, Stage: vk.ShaderStageVertexBit, Module: r.vertShaderModule, PName: safeString("main"),
	}
	fragStage := vk.PipelineShaderStageCreateInfo{
		SType: vk.StructureTypePipelineShaderStageCreateInfo, Stage: vk.ShaderStageFragmentBit, Module: r.fragShaderModule, PName: safeString("main"),
	}
	shaderStages := []vk.PipelineShaderStageCreateInfo{vertStage, fragStage}

	bindingDesc := vk.VertexInputBindingDescription{Binding: 0, Stride: uint32(unsafe.Sizeof(previewVertex{})), InputRate: vk.VertexInputRateVertex}
	attrDescs := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: uint32(unsafe.Offsetof(previewVertex{}.Color))},
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo, VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{bindingDesc},
		VertexAttributeDescriptionCount: uint32(len(attrDescs)), PVertexAttributeDescriptions: attrDescs,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType: vk.StructureTypePipelineInputAssemblyStateCreateInfo, Topology: vk.PrimitiveTopologyTriangleList, PrimitiveRestartEnable: vk.False,
	}
	viewport := vk.Viewport{X: 0, Y: 0, Width: float32(r.width), Height: float32(r.height), MinDepth: 0, MaxDepth: 1}
	scissor := vk.Rect2D{Offset: vk.Offset2D{X: 0, Y: 0}, Extent: vk.Extent2D{Width: uint32(r.width), Height: uint32(r.height)}}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType: vk.StructureTypePipelineViewportStateCreateInfo, ViewportCount: 1, PViewports: []vk.Viewport{viewport},
		ScissorCount: 1, PScissors: []vk.Rect2D{scissor},
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType: vk.StructureTypePipelineRasterizationStateCreateInfo, PolygonMode: vk.PolygonModeFill,
		CullMode: vk.CullModeFlags(vk.CullModeNone), FrontFace: vk.FrontFaceCounterClockwise, LineWidth: 1.0,
	}
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType: vk.StructureTypePipelineMultisampleStateCreateInfo, RasterizationSamples: vk.SampleCount1Bit, MinSampleShading: 1.0,
	}

	var depthTest, depthWrite vk.Bool32
	if key.ZCompare {
		depthTest = vk.True
	}
	if key.ZUpdate {
		depthWrite = vk.True
	}
	// 3 is VK_COMPARE_OP_LESS_OR_EQUAL, the RDP's default Z function.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo, DepthTestEnable: depthTest,
		DepthWriteEnable: depthWrite, DepthCompareOp: vk.CompareOp(3),
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType: vk.StructureTypePipelineColorBlendStateCreateInfo, AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType: vk.StructureTypePipelineDynamicStateCreateInfo, DynamicStateCount: uint32(len(dynamicStates)), PDynamicStates: dynamicStates,
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType: vk.StructureTypeGraphicsPipelineCreateInfo, StageCount: uint32(len(shaderStages)), PStages: shaderStages,
		PVertexInputState: &vertexInputInfo, PInputAssemblyState: &inputAssembly, PViewportState: &viewportState,
		PRasterizationState: &rasterizer, PMultisampleState: &multisampling, PDepthStencilState: &depthStencil,
		PColorBlendState: &colorBlending, PDynamicState: &dynamicState, Layout: r.pipelineLayout, RenderPass: r.renderPass,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(r.device, vk.PipelineCache(vk.NullHandle), 1, []vk.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vk.Success {
		return vk.NullPipeline, fmt.Errorf("vkCreateGraphicsPipelines failed: %d", res)
	}
	return pipelines[0], nil
}

func (r *Renderer) createVertexBuffer() error {
	size := vk.DeviceSize(maxBatchVertices * int(unsafe.Sizeof(previewVertex{})))
	bufferInfo := vk.BufferCreateInfo{SType: vk.StructureTypeBufferCreateInfo, Size: size, Usage: vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), SharingMode: vk.SharingModeExclusive}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(r.device, &bufferInfo, nil, &buffer); res != vk.Success {
		return fmt.Errorf("vkCreateBuffer (vertex) failed: %d", res)
	}
	r.vertexBuffer = buffer

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(r.device, buffer, &memReqs)
	memReqs.Deref()
	memType, err := r.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{SType: vk.StructureTypeMemoryAllocateInfo, AllocationSize: memReqs.Size, MemoryTypeIndex: memType}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(r.device, &allocInfo, nil, &memory); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory (vertex) failed: %d", res)
	}
	r.vertexBufferMemory = memory
	vk.BindBufferMemory(r.device, buffer, memory, 0)
	return nil
}

func (r *Renderer) createStagingBuffer() error {
	size := vk.DeviceSize(r.width * r.height * 4)
	bufferInfo := vk.BufferCreateInfo{SType: vk.StructureTypeBufferCreateInfo, Size: size, Usage: vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), SharingMode: vk.SharingModeExclusive}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(r.device, &bufferInfo, nil, &buffer); res != vk.Success {
		return fmt.Errorf("vkCreateBuffer (staging) failed: %d", res)
	}
	r.stagingBuffer = buffer

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(r.device, buffer, &memReqs)
	memReqs.Deref()
	memType, err := r.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{SType: vk.StructureTypeMemoryAllocateInfo, AllocationSize: memReqs.Size, MemoryTypeIndex: memType}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(r.device, &allocInfo, nil, &memory); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory (staging) failed: %d", res)
	}
	r.stagingBufferMemory = memory
	vk.BindBufferMemory(r.device, buffer, memory, 0)
	return nil
}

func (r *Renderer) createCommandBuffer() error {
	allocInfo := vk.CommandBufferAllocateInfo{SType: vk.StructureTypeCommandBufferAllocateInfo, CommandPool: r.commandPool, Level: vk.CommandBufferLevelPrimary, CommandBufferCount: 1}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(r.device, &allocInfo, buffers); res != vk.Success {
		return fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	r.commandBuffer = buffers[0]
	return nil
}

func (r *Renderer) createFence() error {
	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo, Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit)}
	var fence vk.Fence
	if res := vk.CreateFence(r.device, &fenceInfo, nil, &fence); res != vk.Success {
		return fmt.Errorf("vkCreateFence failed: %d", res)
	}
	r.fence = fence
	return nil
}

// SetClearColor sets the RGBA color used to clear the target before each
// FlushTriangle, mirroring what a SET_FILL_COLOR-driven clear would show.
func (r *Renderer) SetClearColor(c rdpq.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearColor = [4]float32{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255, float32(c.A) / 255}
}

// SetScissor restricts the dynamic scissor rect to the given rdpq.Rect,
// clamped to the render target.
func (r *Renderer) SetScissor(rect rdpq.Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x0, y0 := clampi(int(rect.X0), 0, r.width), clampi(int(rect.Y0), 0, r.height)
	x1, y1 := clampi(int(rect.X1), 0, r.width), clampi(int(rect.Y1), 0, r.height)
	r.scissor = vk.Rect2D{Offset: vk.Offset2D{X: int32(x0), Y: int32(y0)}, Extent: vk.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)}}
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FlushTriangle renders one triangle using the pipeline variant matching
// modes, then reads the frame back to CPU memory. Real previewers batch
// many triangles per submit; FlushTriangle stays one-shot per call since
// the cmd/rdpqview frame loop already paces submissions.
func (r *Renderer) FlushTriangle(modes rdpq.OtherModes, a, b, c rdpq.Vertex) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := PipelineKeyFromModes(modes)
	pipeline, err := r.getOrCreatePipeline(key)
	if err != nil {
		return fmt.Errorf("previewgpu: pipeline for %+v: %w", key, err)
	}
	r.pipeline = pipeline
	r.currentKey = key

	verts := [3]previewVertex{toPreviewVertex(r.width, r.height, a), toPreviewVertex(r.width, r.height, b), toPreviewVertex(r.width, r.height, c)}

	var data unsafe.Pointer
	vk.MapMemory(r.device, r.vertexBufferMemory, 0, vk.DeviceSize(len(verts)*int(unsafe.Sizeof(previewVertex{}))), 0, &data)
	vk.Memcopy(data, verticesToBytes(verts[:]))
	vk.UnmapMemory(r.device, r.vertexBufferMemory)

	vk.WaitForFences(r.device, 1, []vk.Fence{r.fence}, vk.True, ^uint64(0))
	vk.ResetFences(r.device, 1, []vk.Fence{r.fence})
	vk.ResetCommandBuffer(r.commandBuffer, 0)

	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo, Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)}
	vk.BeginCommandBuffer(r.commandBuffer, &beginInfo)

	clearValues := []vk.ClearValue{
		vk.NewClearValue([]float32{r.clearColor[0], r.clearColor[1], r.clearColor[2], r.clearColor[3]}),
		vk.NewClearDepthStencil(1.0, 0),
	}
	renderPassBegin := vk.RenderPassBeginInfo{
		SType: vk.StructureTypeRenderPassBeginInfo, RenderPass: r.renderPass, Framebuffer: r.framebuffer,
		RenderArea:      vk.Rect2D{Offset: vk.Offset2D{X: 0, Y: 0}, Extent: vk.Extent2D{Width: uint32(r.width), Height: uint32(r.height)}},
		ClearValueCount: uint32(len(clearValues)), PClearValues: clearValues,
	}
	vk.CmdBeginRenderPass(r.commandBuffer, &renderPassBegin, vk.SubpassContentsInline)
	vk.CmdBindPipeline(r.commandBuffer, vk.PipelineBindPointGraphics, r.pipeline)
	vk.CmdSetScissor(r.commandBuffer, 0, 1, []vk.Rect2D{r.scissor})

	offsets := []vk.DeviceSize{0}
	vk.CmdBindVertexBuffers(r.commandBuffer, 0, 1, []vk.Buffer{r.vertexBuffer}, offsets)
	vk.CmdDraw(r.commandBuffer, uint32(len(verts)), 1, 0, 0)
	vk.CmdEndRenderPass(r.commandBuffer)
	vk.EndCommandBuffer(r.commandBuffer)

	submitInfo := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo, CommandBufferCount: 1, PCommandBuffers: []vk.CommandBuffer{r.commandBuffer}}
	vk.QueueSubmit(r.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, r.fence)

	vk.WaitForFences(r.device, 1, []vk.Fence{r.fence}, vk.True, ^uint64(0))
	r.readbackFramebuffer()
	return nil
}

// toPreviewVertex maps screen-space (X, Y) and the Z already in
// rdpq.Vertex into normalized device coordinates; texture coordinates are
// dropped since the preview never samples TMEM.
func toPreviewVertex(width, height int, v rdpq.Vertex) previewVertex {
	ndcX := (v.X/float32(width))*2 - 1
	ndcY := (v.Y/float32(height))*2 - 1
	ndcZ := v.Z
	if ndcZ < 0 {
		ndcZ = 0
	} else if ndcZ > 1 {
		ndcZ = 1
	}
	return previewVertex{Position: [3]float32{ndcX, ndcY, ndcZ}, Color: [4]float32{v.R, v.G, v.B, v.A}}
}

// readbackFramebuffer copies the color attachment into the staging buffer
// and then into outputFrame, the standard offscreen-compositor readback
// path for a render target that is never presented directly.
func (r *Renderer) readbackFramebuffer() {
	vk.ResetFences(r.device, 1, []vk.Fence{r.fence})
	vk.ResetCommandBuffer(r.commandBuffer, 0)

	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo, Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)}
	vk.BeginCommandBuffer(r.commandBuffer, &beginInfo)

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
		ImageExtent:      vk.Extent3D{Width: uint32(r.width), Height: uint32(r.height), Depth: 1},
	}
	vk.CmdCopyImageToBuffer(r.commandBuffer, r.colorImage, vk.ImageLayoutTransferSrcOptimal, r.stagingBuffer, 1, []vk.BufferImageCopy{region})
	vk.EndCommandBuffer(r.commandBuffer)

	submitInfo := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo, CommandBufferCount: 1, PCommandBuffers: []vk.CommandBuffer{r.commandBuffer}}
	vk.QueueSubmit(r.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, r.fence)
	vk.WaitForFences(r.device, 1, []vk.Fence{r.fence}, vk.True, ^uint64(0))

	var data unsafe.Pointer
	vk.MapMemory(r.device, r.stagingBufferMemory, 0, vk.DeviceSize(len(r.outputFrame)), 0, &data)
	copy(r.outputFrame, unsafe.Slice((*byte)(data), len(r.outputFrame)))
	vk.UnmapMemory(r.device, r.stagingBufferMemory)
}

// Frame returns the most recently rendered RGBA8 frame. The returned slice
// is owned by the Renderer and is overwritten by the next FlushTriangle.
func (r *Renderer) Frame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputFrame
}

// Close releases every Vulkan object the Renderer owns.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	vk.DeviceWaitIdle(r.device)
	vk.DestroyFence(r.device, r.fence, nil)
	r.destroyStagingBuffer()
	r.destroyVertexBuffer()
	for _, p := range r.pipelineVariants {
		vk.DestroyPipeline(r.device, p, nil)
	}
	r.destroyPipelineLayout()
	r.destroyFramebuffer()
	r.destroyRenderPass()
	r.destroyOffscreenImages()
	r.destroyCommandPool()
	r.destroyDevice()
	r.destroyInstance()
	r.initialized = false
}

func (r *Renderer) destroyInstance() {
	if r.instance != nil {
		vk.DestroyInstance(r.instance, nil)
		r.instance = nil
	}
}
func (r *Renderer) destroyDevice() {
	if r.device != nil {
		vk.DestroyDevice(r.device, nil)
		r.device = nil
	}
}
func (r *Renderer) destroyCommandPool() {
	if r.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(r.device, r.commandPool, nil)
	}
}
func (r *Renderer) destroyOffscreenImages() {
	vk.DestroyImageView(r.device, r.colorImageView, nil)
	vk.DestroyImage(r.device, r.colorImage, nil)
	vk.FreeMemory(r.device, r.colorImageMemory, nil)
	vk.DestroyImageView(r.device, r.depthImageView, nil)
	vk.DestroyImage(r.device, r.depthImage, nil)
	vk.FreeMemory(r.device, r.depthImageMemory, nil)
}
func (r *Renderer) destroyRenderPass() {
	if r.renderPass != vk.NullRenderPass {
		vk.DestroyRenderPass(r.device, r.renderPass, nil)
	}
}
func (r *Renderer) destroyFramebuffer() {
	if r.framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(r.device, r.framebuffer, nil)
	}
}
func (r *Renderer) destroyPipelineLayout() {
	vk.DestroyShaderModule(r.device, r.vertShaderModule, nil)
	vk.DestroyShaderModule(r.device, r.fragShaderModule, nil)
	if r.pipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(r.device, r.pipelineLayout, nil)
	}
}
func (r *Renderer) destroyVertexBuffer() {
	vk.DestroyBuffer(r.device, r.vertexBuffer, nil)
	vk.FreeMemory(r.device, r.vertexBufferMemory, nil)
}
func (r *Renderer) destroyStagingBuffer() {
	vk.DestroyBuffer(r.device, r.stagingBuffer, nil)
	vk.FreeMemory(r.device, r.stagingBufferMemory, nil)
}

func safeString(s string) string {
	return s + "\x00"
}

func sliceUint32(data []byte) []uint32 {
	n := len(data) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
	}
	return out
}

func verticesToBytes(v []previewVertex) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*int(unsafe.Sizeof(previewVertex{})))
}

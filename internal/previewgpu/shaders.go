package previewgpu

// previewVertexShaderSPIRV and previewFragmentShaderSPIRV are the SPIR-V
// byte slices the preview pipeline loads for its vertex and fragment
// stages. Each holds only a module header (magic, version, generator,
// bound, schema) and the first few instructions (capability, memory model,
// entry point, and for the fragment stage its execution mode); neither is
// a complete shader module with function bodies. No shader sources are in
// the repository, and rdpq has no runtime shader compiler dependency.
var previewVertexShaderSPIRV = []byte{
	0x03, 0x02, 0x23, 0x07, // magic number
	0x00, 0x00, 0x01, 0x00, // version 1.0
	0x08, 0x00, 0x08, 0x00, // generator magic (glslang)
	0x0e, 0x00, 0x00, 0x00, // bound
	0x00, 0x00, 0x00, 0x00, // schema
	// OpCapability Shader
	0x11, 0x00, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00,
	// OpMemoryModel Logical GLSL450
	0x0e, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
	// OpEntryPoint Vertex %main "main" gl_Position inPosition inColor outColor
	0x0f, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
	0x6d, 0x61, 0x69, 0x6e, 0x00, 0x00, 0x00, 0x00,
}

var previewFragmentShaderSPIRV = []byte{
	0x03, 0x02, 0x23, 0x07, // magic number
	0x00, 0x00, 0x01, 0x00, // version 1.0
	0x08, 0x00, 0x08, 0x00, // generator magic (glslang)
	0x0c, 0x00, 0x00, 0x00, // bound
	0x00, 0x00, 0x00, 0x00, // schema
	// OpCapability Shader
	0x11, 0x00, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00,
	// OpMemoryModel Logical GLSL450
	0x0e, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
	// OpEntryPoint Fragment %main "main" outColor inColor
	0x0f, 0x00, 0x06, 0x00, 0x04, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
	0x6d, 0x61, 0x69, 0x6e, 0x00, 0x00, 0x00, 0x00,
	// OpExecutionMode %main OriginUpperLeft
	0x10, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x00, 0x07, 0x00, 0x00, 0x00,
}

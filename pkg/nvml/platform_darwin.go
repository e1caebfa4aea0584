package nvml

const libraryName = "/Library/Frameworks/CUDA.framework/CUDA"

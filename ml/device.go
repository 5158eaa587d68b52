package ml

import (
	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"
	torch "github.com/wangkuiyi/gotorch"
)

// ResolveDevice picks CUDA when libtorch can see a GPU and the CPU otherwise.
func ResolveDevice(log logrus.FieldLogger) torch.Device {
	if torch.IsCUDAAvailable() {
		log.Info("CUDA is valid")
		return torch.NewDevice("cuda")
	}
	log.WithFields(logrus.Fields{
		"cpu":   cpuid.CPU.BrandName,
		"cores": cpuid.CPU.PhysicalCores,
		"avx2":  cpuid.CPU.Supports(cpuid.AVX2),
	}).Info("No CUDA found; CPU only")
	return torch.NewDevice("cpu")
}

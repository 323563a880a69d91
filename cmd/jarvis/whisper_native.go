//go:build whispercpp

package main

import (
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
)

func init() {
	extraRegistrations = append(extraRegistrations, func(reg *config.Registry) {
		reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
			modelPath := entry.Model
			if modelPath == "" {
				modelPath = optString(entry.Options, "model_path")
			}
			var opts []whisper.NativeOption
			if lang := optString(entry.Options, "language"); lang != "" {
				opts = append(opts, whisper.WithNativeLanguage(lang))
			}
			if prompt := optString(entry.Options, "prompt"); prompt != "" {
				opts = append(opts, whisper.WithNativePrompt(prompt))
			}
			if n := optInt(entry.Options, "threads"); n > 0 {
				opts = append(opts, whisper.WithNativeThreads(uint(n)))
			}
			return whisper.NewNative(modelPath, opts...)
		})
	})
}

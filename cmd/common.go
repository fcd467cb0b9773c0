/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/pseudotran/internal/model"
)

// newLogger builds the process logger. Verbose mode switches to
// human-readable development output.
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// buildRegistry registers every backend the CLI knows about. Registration is
// explicit; there is no plugin discovery.
func buildRegistry(log *zap.SugaredLogger, ollamaURL, ollamaModel, openrouterKey, openrouterModel string) (*model.Registry, error) {
	reg := model.NewRegistry(log)

	backends := []struct {
		desc    model.Descriptor
		factory model.Factory
	}{
		{
			desc: model.Descriptor{
				Name:    "ollama",
				Aliases: []string{"local"},
				Format:  "ollama-http",
				Capabilities: model.Capabilities{
					MaxContextLength:  model.DefaultOllamaContextLength,
					SupportsStreaming: true,
					SupportsGPU:       true,
				},
			},
			factory: func(path string, options map[string]string) (model.Backend, error) {
				merged := map[string]string{"base_url": ollamaURL, "model": ollamaModel}
				for k, v := range options {
					merged[k] = v
				}
				return model.OllamaFactory(path, merged)
			},
		},
		{
			desc: model.Descriptor{
				Name:   "openrouter",
				Format: "openrouter-http",
				Capabilities: model.Capabilities{
					MaxContextLength:  32768,
					SupportsStreaming: false,
					SupportsGPU:       false,
				},
			},
			factory: func(path string, options map[string]string) (model.Backend, error) {
				merged := map[string]string{"api_key": openrouterKey, "model": openrouterModel}
				for k, v := range options {
					merged[k] = v
				}
				return model.OpenRouterFactory(path, merged)
			},
		},
		{
			desc: model.Descriptor{
				Name:    "echo",
				Aliases: []string{"stub"},
				Format:  "builtin",
				Capabilities: model.Capabilities{
					MaxContextLength: 1 << 20,
				},
			},
			factory: model.EchoFactory,
		},
	}

	for _, b := range backends {
		if err := reg.Register(b.desc, b.factory); err != nil {
			return nil, fmt.Errorf("registering %s: %w", b.desc.Name, err)
		}
	}
	return reg, nil
}

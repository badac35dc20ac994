package handoff

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
)

// Encode converts a payload to its wire form.
func Encode(p Payload) (*structpb.Struct, error) {
	extra := make(map[string]interface{}, len(p.Config.Extra))
	for k, v := range p.Config.Extra {
		extra[k] = v
	}

	return structpb.NewStruct(map[string]interface{}{
		"protocol_version": p.ProtocolVersion,
		"launch_id":        p.LaunchID,
		"artifact": map[string]interface{}{
			"model_reference": p.Artifact.ModelReference,
			"provider":        p.Artifact.Provider,
			"path":            p.Artifact.Path,
			"digest":          p.Artifact.Digest,
			"size":            p.Artifact.Size,
			"device":          p.Artifact.Device,
			"precision":       p.Artifact.Precision,
		},
		"config": map[string]interface{}{
			"model_reference":   p.Config.ModelReference,
			"device":            p.Config.Device,
			"precision_mode":    p.Config.Precision,
			"base_port":         p.Config.BasePort,
			"listen_host":       p.Config.ListenHost,
			"credential_prefix": p.Config.CredentialPrefix,
			"credential_set":    p.Config.CredentialSet,
			"warmup_bytes":      p.Config.WarmupBytes,
			"verify_artifact":   p.Config.VerifyArtifact,
			"extra":             extra,
			"instance_name":     p.Config.InstanceName,
			"identity": map[string]interface{}{
				"ordinal":        p.Config.Identity.Ordinal,
				"credential_ref": p.Config.Identity.CredentialRef,
				"listen_host":    p.Config.Identity.ListenHost,
				"listen_port":    p.Config.Identity.ListenPort,
			},
		},
	})
}

// Decode converts a wire payload back. Missing identity or launch ID is an error.
func Decode(s *structpb.Struct) (Payload, error) {
	f := s.GetFields()
	art := f["artifact"].GetStructValue().GetFields()
	cfg := f["config"].GetStructValue()
	id := cfg.GetFields()["identity"].GetStructValue()

	if f["launch_id"].GetStringValue() == "" || cfg == nil || id == nil {
		return Payload{}, ErrMalformedPayload
	}
	c := cfg.GetFields()
	idf := id.GetFields()

	var extra map[string]string
	if ex := c["extra"].GetStructValue().GetFields(); len(ex) > 0 {
		extra = make(map[string]string, len(ex))
		for k, v := range ex {
			extra[k] = v.GetStringValue()
		}
	}

	p := Payload{
		ProtocolVersion: int(f["protocol_version"].GetNumberValue()),
		LaunchID:        f["launch_id"].GetStringValue(),
		Artifact: artifact.Ref{
			ModelReference: art["model_reference"].GetStringValue(),
			Provider:       art["provider"].GetStringValue(),
			Path:           art["path"].GetStringValue(),
			Digest:         art["digest"].GetStringValue(),
			Size:           int64(art["size"].GetNumberValue()),
			Device:         art["device"].GetStringValue(),
			Precision:      art["precision"].GetStringValue(),
		},
		Config: config.InstanceConfig{
			BaseConfig: config.BaseConfig{
				ModelReference:   c["model_reference"].GetStringValue(),
				Device:           c["device"].GetStringValue(),
				Precision:        c["precision_mode"].GetStringValue(),
				BasePort:         int(c["base_port"].GetNumberValue()),
				ListenHost:       c["listen_host"].GetStringValue(),
				CredentialPrefix: c["credential_prefix"].GetStringValue(),
				CredentialSet:    c["credential_set"].GetStringValue(),
				WarmupBytes:      int64(c["warmup_bytes"].GetNumberValue()),
				VerifyArtifact:   c["verify_artifact"].GetBoolValue(),
				Extra:            extra,
			},
			Identity: config.Identity{
				Ordinal:       int(idf["ordinal"].GetNumberValue()),
				CredentialRef: idf["credential_ref"].GetStringValue(),
				ListenHost:    idf["listen_host"].GetStringValue(),
				ListenPort:    int(idf["listen_port"].GetNumberValue()),
			},
			InstanceName: c["instance_name"].GetStringValue(),
		},
	}

	if p.Config.Identity.ListenPort <= 0 {
		return Payload{}, fmt.Errorf("%w: missing listen port", ErrMalformedPayload)
	}
	return p, nil
}

func encodeAck(p Payload) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"launch_id": p.LaunchID,
		"ordinal":   p.Ordinal(),
	})
}

func decodeAck(s *structpb.Struct) (launchID string, ordinal int) {
	f := s.GetFields()
	return f["launch_id"].GetStringValue(), int(f["ordinal"].GetNumberValue())
}

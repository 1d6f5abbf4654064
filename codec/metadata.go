// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package codec

import "github.com/kproxy-io/kproxy/wire"

// MetadataRequest asks a broker for cluster metadata. A nil Topics slice
// requests metadata for all topics.
type MetadataRequest struct {
	Topics                             []MetadataRequestTopic
	AllTopics                          bool // set when the topics array is null
	AllowAutoTopicCreation             bool // v4+
	IncludeClusterAuthorizedOperations bool // v8+
	IncludeTopicAuthorizedOperations   bool // v8+
}

func (*MetadataRequest) Api() wire.ApiKey { return wire.Metadata }

// MetadataRequestTopic names one requested topic.
type MetadataRequestTopic struct {
	Name string
}

// MetadataResponse carries the broker, controller, and topic layout of the
// cluster.
type MetadataResponse struct {
	ThrottleMs                  int32 // v3+
	Brokers                     []MetadataBroker
	ClusterID                   *string // v2+
	ControllerID                int32   // v1+
	Topics                      []MetadataTopic
	ClusterAuthorizedOperations int32 // v8+
}

func (*MetadataResponse) Api() wire.ApiKey { return wire.Metadata }

// MetadataBroker describes one broker endpoint.
type MetadataBroker struct {
	NodeID int32
	Host   string
	Port   int32
	Rack   *string // v1+
}

// MetadataTopic describes one topic and its partitions.
type MetadataTopic struct {
	ErrorCode                 int16
	Name                      string
	IsInternal                bool // v1+
	Partitions                []MetadataPartition
	TopicAuthorizedOperations int32 // v8+
}

// MetadataPartition describes one partition's leadership.
type MetadataPartition struct {
	ErrorCode int16
	Index     int32
	LeaderID  int32
}

var metadataCodec = bodyCodec{
	minVersion:  1,
	maxVersion:  9,
	flexVersion: 9,

	decodeRequest: func(s *wire.Scanner, ver int16) (Message, error) {
		flex := ver >= 9
		var m MetadataRequest
		n, err := getArrayLen(s, flex)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			m.AllTopics = true
		}
		for range max(n, 0) {
			var t MetadataRequestTopic
			if t.Name, err = getString(s, flex); err != nil {
				return nil, err
			}
			if err := skipTags(s, flex); err != nil {
				return nil, err
			}
			m.Topics = append(m.Topics, t)
		}
		if ver >= 4 {
			if m.AllowAutoTopicCreation, err = s.Bool(); err != nil {
				return nil, err
			}
		}
		if ver >= 8 {
			if m.IncludeClusterAuthorizedOperations, err = s.Bool(); err != nil {
				return nil, err
			}
			if m.IncludeTopicAuthorizedOperations, err = s.Bool(); err != nil {
				return nil, err
			}
		}
		return &m, skipTags(s, flex)
	},

	encodeRequest: func(b *wire.Builder, m Message, ver int16) error {
		req, ok := m.(*MetadataRequest)
		if !ok {
			return wrongBody("*MetadataRequest", m)
		}
		flex := ver >= 9
		if req.AllTopics {
			putArrayLen(b, -1, flex)
		} else {
			putArrayLen(b, len(req.Topics), flex)
			for _, t := range req.Topics {
				putString(b, t.Name, flex)
				putTags(b, flex)
			}
		}
		if ver >= 4 {
			b.Bool(req.AllowAutoTopicCreation)
		}
		if ver >= 8 {
			b.Bool(req.IncludeClusterAuthorizedOperations)
			b.Bool(req.IncludeTopicAuthorizedOperations)
		}
		putTags(b, flex)
		return nil
	},

	decodeResponse: func(s *wire.Scanner, ver int16) (Message, error) {
		flex := ver >= 9
		var m MetadataResponse
		var err error
		if ver >= 3 {
			if m.ThrottleMs, err = s.Int32(); err != nil {
				return nil, err
			}
		}

		nb, err := getArrayLen(s, flex)
		if err != nil {
			return nil, err
		}
		for range max(nb, 0) {
			var br MetadataBroker
			if br.NodeID, err = s.Int32(); err != nil {
				return nil, err
			}
			if br.Host, err = getString(s, flex); err != nil {
				return nil, err
			}
			if br.Port, err = s.Int32(); err != nil {
				return nil, err
			}
			if br.Rack, err = getNullableString(s, flex); err != nil {
				return nil, err
			}
			if err := skipTags(s, flex); err != nil {
				return nil, err
			}
			m.Brokers = append(m.Brokers, br)
		}

		if ver >= 2 {
			if m.ClusterID, err = getNullableString(s, flex); err != nil {
				return nil, err
			}
		}
		if m.ControllerID, err = s.Int32(); err != nil {
			return nil, err
		}

		nt, err := getArrayLen(s, flex)
		if err != nil {
			return nil, err
		}
		for range max(nt, 0) {
			var t MetadataTopic
			if t.ErrorCode, err = s.Int16(); err != nil {
				return nil, err
			}
			if t.Name, err = getString(s, flex); err != nil {
				return nil, err
			}
			if t.IsInternal, err = s.Bool(); err != nil {
				return nil, err
			}
			np, err := getArrayLen(s, flex)
			if err != nil {
				return nil, err
			}
			for range max(np, 0) {
				var p MetadataPartition
				if p.ErrorCode, err = s.Int16(); err != nil {
					return nil, err
				}
				if p.Index, err = s.Int32(); err != nil {
					return nil, err
				}
				if p.LeaderID, err = s.Int32(); err != nil {
					return nil, err
				}
				if err := skipTags(s, flex); err != nil {
					return nil, err
				}
				t.Partitions = append(t.Partitions, p)
			}
			if ver >= 8 {
				if t.TopicAuthorizedOperations, err = s.Int32(); err != nil {
					return nil, err
				}
			}
			if err := skipTags(s, flex); err != nil {
				return nil, err
			}
			m.Topics = append(m.Topics, t)
		}

		if ver >= 8 {
			if m.ClusterAuthorizedOperations, err = s.Int32(); err != nil {
				return nil, err
			}
		}
		return &m, skipTags(s, flex)
	},

	encodeResponse: func(b *wire.Builder, m Message, ver int16) error {
		rsp, ok := m.(*MetadataResponse)
		if !ok {
			return wrongBody("*MetadataResponse", m)
		}
		flex := ver >= 9
		if ver >= 3 {
			b.Int32(rsp.ThrottleMs)
		}
		putArrayLen(b, len(rsp.Brokers), flex)
		for _, br := range rsp.Brokers {
			b.Int32(br.NodeID)
			putString(b, br.Host, flex)
			b.Int32(br.Port)
			putNullableString(b, br.Rack, flex)
			putTags(b, flex)
		}
		if ver >= 2 {
			putNullableString(b, rsp.ClusterID, flex)
		}
		b.Int32(rsp.ControllerID)
		putArrayLen(b, len(rsp.Topics), flex)
		for _, t := range rsp.Topics {
			b.Int16(t.ErrorCode)
			putString(b, t.Name, flex)
			b.Bool(t.IsInternal)
			putArrayLen(b, len(t.Partitions), flex)
			for _, p := range t.Partitions {
				b.Int16(p.ErrorCode)
				b.Int32(p.Index)
				b.Int32(p.LeaderID)
				putTags(b, flex)
			}
			if ver >= 8 {
				b.Int32(t.TopicAuthorizedOperations)
			}
			putTags(b, flex)
		}
		if ver >= 8 {
			b.Int32(rsp.ClusterAuthorizedOperations)
		}
		putTags(b, flex)
		return nil
	},
}

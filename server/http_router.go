package server

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-scheduler/types"
	"github.com/saiset-co/sai-scheduler/utils"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
	"TRACE":   7,
}

var methodNames = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

const (
	flagIsLeaf    uint8 = 1 << 0
	flagHasParam  uint8 = 1 << 1
	flagHasStatic uint8 = 1 << 2
)

// FastHTTPRouter matches static paths through a map and parameterized
// paths ({id} or :id segments) through a trie.
type FastHTTPRouter struct {
	root         *RouteNode
	staticRoutes map[string]*types.RouteInfo
	mu           sync.RWMutex
	running      int32
	paramsPool   sync.Pool
}

type RouteNode struct {
	staticChildren map[string]*RouteNode
	paramChild     *RouteNode
	paramName      string
	methodMask     uint8
	handlers       [8]types.FastHTTPHandler
	configs        [8]*types.RouteConfig
	flags          uint8
}

func NewFastHTTPRouter() (*FastHTTPRouter, error) {
	router := &FastHTTPRouter{
		root:         &RouteNode{staticChildren: make(map[string]*RouteNode)},
		staticRoutes: make(map[string]*types.RouteInfo),
		paramsPool: sync.Pool{
			New: func() interface{} {
				return make(map[string]string, 4)
			},
		},
	}

	return router, nil
}

func (r *FastHTTPRouter) Start() error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (r *FastHTTPRouter) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (r *FastHTTPRouter) IsRunning() bool {
	return atomic.LoadInt32(&r.running) == 1
}

func (r *FastHTTPRouter) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	methodIdx, exists := methodIndex[method]
	if !exists {
		return
	}

	if config == nil {
		config = &types.RouteConfig{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !strings.Contains(path, "{") && !strings.Contains(path, ":") {
		key := method + ":" + path
		r.staticRoutes[key] = &types.RouteInfo{
			Handler: handler,
			Config:  config,
		}
		return
	}

	r.addToTrie(methodIdx, path, handler, config)
}

func (r *FastHTTPRouter) addToTrie(methodIdx uint8, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	node := r.root
	segments := parsePathSegments(path)

	for _, segment := range segments {
		if len(segment) > 0 && (segment[0] == '{' || segment[0] == ':') {
			if node.paramChild == nil {
				node.paramChild = &RouteNode{staticChildren: make(map[string]*RouteNode)}
				node.flags |= flagHasParam

				if segment[0] == '{' && len(segment) > 2 && segment[len(segment)-1] == '}' {
					node.paramChild.paramName = segment[1 : len(segment)-1]
				} else if segment[0] == ':' && len(segment) > 1 {
					node.paramChild.paramName = segment[1:]
				}
			}
			node = node.paramChild
		} else {
			child, exists := node.staticChildren[segment]
			if !exists {
				child = &RouteNode{staticChildren: make(map[string]*RouteNode)}
				node.staticChildren[segment] = child
				node.flags |= flagHasStatic
			}
			node = child
		}
	}

	node.flags |= flagIsLeaf
	node.handlers[methodIdx] = handler
	node.configs[methodIdx] = config
	node.methodMask |= 1 << methodIdx
}

// Lookup resolves a request path. The returned params map, when not
// nil, must be released via ReleaseParams once the values have been
// copied into the request context.
func (r *FastHTTPRouter) Lookup(method, path []byte) (types.FastHTTPHandler, *types.RouteConfig, map[string]string) {
	if handler, config := r.findStaticFast(method, path); handler != nil {
		return handler, config, nil
	}

	methodIdx, exists := methodIndex[utils.BytesToString(method)]
	if !exists {
		return nil, nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.findInTrie(utils.BytesToString(path), methodIdx)
}

func (r *FastHTTPRouter) ReleaseParams(params map[string]string) {
	if params == nil {
		return
	}

	for k := range params {
		delete(params, k)
	}
	r.paramsPool.Put(params)
}

func (r *FastHTTPRouter) findStaticFast(method, path []byte) (types.FastHTTPHandler, *types.RouteConfig) {
	if bytes.ContainsAny(path, "{}:") {
		return nil, nil
	}

	if len(method)+len(path) <= 30 {
		var buf [32]byte
		n := copy(buf[:], method)
		buf[n] = ':'
		copy(buf[n+1:], path)
		key := string(buf[:n+1+len(path)])

		r.mu.RLock()
		info := r.staticRoutes[key]
		r.mu.RUnlock()

		if info != nil {
			return info.Handler, info.Config
		}
		return nil, nil
	}

	key := string(method) + ":" + string(path)
	r.mu.RLock()
	info := r.staticRoutes[key]
	r.mu.RUnlock()

	if info != nil {
		return info.Handler, info.Config
	}
	return nil, nil
}

func (r *FastHTTPRouter) findInTrie(path string, methodIdx uint8) (types.FastHTTPHandler, *types.RouteConfig, map[string]string) {
	segments := parsePathSegments(path)

	params := r.paramsPool.Get().(map[string]string)
	for k := range params {
		delete(params, k)
	}

	handler, config := r.findInNode(r.root, segments, 0, methodIdx, params)

	if handler == nil || len(params) == 0 {
		r.paramsPool.Put(params)
		return handler, config, nil
	}

	return handler, config, params
}

func (r *FastHTTPRouter) findInNode(node *RouteNode, segments []string, index int, methodIdx uint8, params map[string]string) (types.FastHTTPHandler, *types.RouteConfig) {
	if index >= len(segments) {
		if (node.flags&flagIsLeaf) != 0 && (node.methodMask&(1<<methodIdx)) != 0 {
			return node.handlers[methodIdx], node.configs[methodIdx]
		}
		return nil, nil
	}

	segment := segments[index]

	if (node.flags & flagHasStatic) != 0 {
		if child, exists := node.staticChildren[segment]; exists {
			if handler, config := r.findInNode(child, segments, index+1, methodIdx, params); handler != nil {
				return handler, config
			}
		}
	}

	if (node.flags&flagHasParam) != 0 && node.paramChild != nil {
		params[node.paramChild.paramName] = segment

		if handler, config := r.findInNode(node.paramChild, segments, index+1, methodIdx, params); handler != nil {
			return handler, config
		}

		delete(params, node.paramChild.paramName)
	}

	return nil, nil
}

func (r *FastHTTPRouter) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	config := &types.RouteConfig{}
	r.Add(method, path, handler, config)

	return &RouteBuilder{config: config}
}

func (r *FastHTTPRouter) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: r,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

func (r *FastHTTPRouter) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("GET", path, handler)
}

func (r *FastHTTPRouter) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("POST", path, handler)
}

func (r *FastHTTPRouter) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("PUT", path, handler)
}

func (r *FastHTTPRouter) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("DELETE", path, handler)
}

func (r *FastHTTPRouter) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo)
	for key, info := range r.staticRoutes {
		routes[key] = info
	}

	r.collectTrieRoutes(r.root, "", routes)

	return routes
}

func (r *FastHTTPRouter) collectTrieRoutes(node *RouteNode, currentPath string, routes map[string]*types.RouteInfo) {
	if (node.flags & flagIsLeaf) != 0 {
		for methodIdx, methodName := range methodNames {
			if (node.methodMask & (1 << methodIdx)) != 0 {
				key := methodName + ":" + currentPath
				routes[key] = &types.RouteInfo{
					Handler: node.handlers[methodIdx],
					Config:  node.configs[methodIdx],
				}
			}
		}
	}

	if (node.flags & flagHasStatic) != 0 {
		for segment, child := range node.staticChildren {
			r.collectTrieRoutes(child, joinPath(currentPath, segment), routes)
		}
	}

	if (node.flags&flagHasParam) != 0 && node.paramChild != nil {
		paramSegment := "{" + node.paramChild.paramName + "}"
		r.collectTrieRoutes(node.paramChild, joinPath(currentPath, paramSegment), routes)
	}
}

func joinPath(base, segment string) string {
	if base == "" || base == "/" {
		return "/" + segment
	}
	return base + "/" + segment
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
